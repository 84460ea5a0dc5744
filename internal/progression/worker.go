package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/automerge"
	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/notify"
	"github.com/relmatic/mergeflow/internal/statestore"
	"github.com/relmatic/mergeflow/internal/strategy"
)

// edgeOutcome classifies how driving one edge ended.
type edgeOutcome int

const (
	// edgeMerged: the merge request of the edge was merged.
	edgeMerged edgeOutcome = iota
	// edgeSkipped: the edge carried no commits, the flow continues with
	// the next edge.
	edgeSkipped
	// edgeNoCommits: the edge carries no commits and skipping empty edges
	// is disabled, the repository stays pending.
	edgeNoCommits
	// edgeManualMerge: the merge request stays open and must be merged
	// manually.
	edgeManualMerge
	// edgeFailed: the edge can not be merged.
	edgeFailed
)

type edgeResult struct {
	outcome edgeOutcome
	reason  string
	link    string
}

func failedResult(format string, a ...any) edgeResult {
	return edgeResult{outcome: edgeFailed, reason: fmt.Sprintf(format, a...)}
}

// processRepository drives one repository through its remaining planned
// edges, edge by edge. When all planned edges are merged or skipped, the
// additional commit scan runs.
func (e *Engine) processRepository(ctx context.Context, phase string, repo *strategy.Repository) {
	logger := e.logger.With(
		logfields.Repository(repo.Name),
		logfields.Strategy(repo.Strategy.Name),
		logfields.Category(string(repo.Category)),
	)

	status, startIdx := e.repoStatus(repo.Name)
	if status == StatusCompleted {
		logger.Debug(
			"repository already completed, skipped",
			logfields.Event("repository_already_completed"),
		)

		return
	}

	metrics.RepoInProgressInc()
	defer metrics.RepoInProgressDec()

	e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
		repoState.Status = string(StatusInProgress)
		repoState.Reason = ""
	})

	edges := repo.Strategy.Edges()

	for idx := startIdx; idx < len(edges); idx++ {
		edge := edges[idx]
		edgeLogger := logger.With(logfields.Edge(edge.String()))

		result := e.processEdge(ctx, phase, repo, edge, edgeLogger)

		switch result.outcome {
		case edgeFailed:
			e.failRepository(ctx, phase, repo, edge, result, edgeLogger)
			return

		case edgeManualMerge:
			e.manualMergeRepository(ctx, phase, repo, edge, result, edgeLogger)
			return

		case edgeNoCommits:
			e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
				repoState.Status = string(StatusPending)
				repoState.Reason = fmt.Sprintf("no commits pending on %s", edge)
			})

			edgeLogger.Info(
				"edge carries no commits and skipping empty edges is disabled, repository stays pending",
				logfields.Event("repository_pending"),
			)

			return
		}

		e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
			repoState.EdgeIndex = idx + 1
		})

		if result.outcome == edgeMerged && !e.progressive && idx+1 < len(edges) {
			e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
				repoState.Status = string(StatusPending)
				repoState.Reason = fmt.Sprintf("progressive mode disabled, stopped after %s", edge)
			})

			edgeLogger.Info(
				"progressive mode disabled, repository stops after the merged edge",
				logfields.Event("repository_pending"),
			)

			return
		}
	}

	e.completeRepository(ctx, phase, repo, logger)

	e.scanAdditional(ctx, repo, logger)
}

// processEdge diffs the branches of one planned edge, skips the edge when
// it carries no commits and otherwise drives it to a merge.
func (e *Engine) processEdge(ctx context.Context, phase string, repo *strategy.Repository, edge *strategy.Edge, logger *zap.Logger) edgeResult {
	commits, err := e.differ.Diff(ctx, repo.Name, edge.From, edge.To)
	if err != nil {
		if errors.Is(err, forge.ErrBranchNotFound) {
			return failedResult("branch missing: %s", err)
		}

		return failedResult("comparing branches failed: %s", err)
	}

	if len(commits) == 0 {
		if !e.skipEmptyEdges {
			return edgeResult{outcome: edgeNoCommits}
		}

		logger.Info(
			"edge carries no commits, skipped",
			logfields.Event("edge_skipped"),
		)

		e.stats.add(func(s *runStats) { s.EdgesSkipped++ })
		metrics.EdgeProcessedInc(repo.Name, "skipped")

		e.notify(ctx, &notify.Event{
			Phase:      phase,
			Repository: repo.Name,
			Edge:       edge.String(),
			Status:     "skipped",
		})

		return edgeResult{outcome: edgeSkipped}
	}

	return e.driveEdge(ctx, phase, repo, edge, commits, logger)
}

// driveEdge ensures the merge request of the edge and drives it until it
// is merged: it enables auto-merge, polls the merge request and waits for
// the deployment when the edge triggers one.
func (e *Engine) driveEdge(ctx context.Context, phase string, repo *strategy.Repository, edge *strategy.Edge, commits []*forge.Commit, logger *zap.Logger) edgeResult {
	logger.Info(
		"driving edge",
		logfields.Event("edge_started"),
		zap.Int("commit_count", len(commits)),
	)

	record, err := e.manager.Ensure(ctx, repo.Name, edge, commits)
	if err != nil {
		return failedResult("ensuring merge request failed: %s", err)
	}

	e.recordMergeRequest(record)

	if record.Reused {
		e.stats.add(func(s *runStats) { s.MergeRequestsReused++ })
		metrics.MergeRequestInc(repo.Name, "reused")
	} else {
		e.stats.add(func(s *runStats) { s.MergeRequestsCreated++ })
		metrics.MergeRequestInc(repo.Name, "created")
	}

	if record.State == automerge.StateConflict {
		return edgeResult{
			outcome: edgeFailed,
			reason:  "merge request has conflicts",
			link:    record.WebURL,
		}
	}

	if record.State != automerge.StateMerged {
		if !e.autoMerge {
			return edgeResult{
				outcome: edgeManualMerge,
				reason:  "auto-merge is disabled",
				link:    record.WebURL,
			}
		}

		err = e.manager.EnableAutoMerge(ctx, record)
		e.recordMergeRequest(record)

		if err != nil {
			if errors.Is(err, automerge.ErrAutoMergeUnsupported) {
				return edgeResult{
					outcome: edgeManualMerge,
					reason:  err.Error(),
					link:    record.WebURL,
				}
			}

			return edgeResult{
				outcome: edgeFailed,
				reason:  fmt.Sprintf("enabling auto-merge failed: %s", err),
				link:    record.WebURL,
			}
		}
	}

	if record.State != automerge.StateMerged {
		if result := e.awaitMerge(ctx, record, logger); result.outcome != edgeMerged {
			return result
		}
	}

	e.stats.add(func(s *runStats) {
		s.EdgesMerged++
		s.Retries += record.RetryCount
	})
	metrics.EdgeProcessedInc(repo.Name, "merged")
	metrics.MergeRequestRetriesAdd(record.RetryCount)

	e.recordMergeRequest(record)

	if env := edge.DeployEnvironment; env != nil && env.WaitForDeployment {
		if err := e.awaitDeployment(ctx, repo, env, logger); err != nil {
			return edgeResult{
				outcome: edgeFailed,
				reason:  fmt.Sprintf("deployment to %s: %s", env.Name, err),
				link:    record.WebURL,
			}
		}
	}

	logger.Info(
		"edge merged",
		logfields.Event("edge_merged"),
		logfields.MergeRequest(record.IID),
	)

	e.notify(ctx, &notify.Event{
		Phase:      phase,
		Repository: repo.Name,
		Edge:       edge.String(),
		Status:     "merged",
		Links:      []string{record.WebURL},
	})

	return edgeResult{outcome: edgeMerged, link: record.WebURL}
}

// awaitMerge polls the merge request until it is merged, its pipeline
// fails, it develops conflicts or the pipeline timeout passes. When a poll
// reports the merge as blocked although the pipeline passed, one direct
// merge is attempted and polling resumes.
func (e *Engine) awaitMerge(ctx context.Context, record *automerge.Record, logger *zap.Logger) edgeResult {
	w := newWaiter(e.pollInterval, time.Now().Add(e.pipelineTimeout))
	nudged := false

	for {
		pollResult, err := e.manager.Poll(ctx, record)
		if err != nil {
			return edgeResult{
				outcome: edgeFailed,
				reason:  fmt.Sprintf("polling merge request failed: %s", err),
				link:    record.WebURL,
			}
		}

		e.recordMergeRequest(record)

		switch pollResult {
		case automerge.PollMerged:
			return edgeResult{outcome: edgeMerged, link: record.WebURL}

		case automerge.PollMergeConflict:
			return edgeResult{
				outcome: edgeFailed,
				reason:  "merge request has conflicts",
				link:    record.WebURL,
			}

		case automerge.PollPipelineFailed:
			return edgeResult{
				outcome: edgeFailed,
				reason:  fmt.Sprintf("pipeline on %s failed", record.Edge.From),
				link:    record.WebURL,
			}

		case automerge.PollBlocked:
			if record.State != automerge.StatePipelinePassed {
				return edgeResult{
					outcome: edgeFailed,
					reason:  "merge request was closed externally",
					link:    record.WebURL,
				}
			}

			if !nudged {
				nudged = true

				logger.Info(
					"pipeline passed but merge request stays open, merging directly",
					logfields.Event("direct_merge_nudge"),
					logfields.MergeRequest(record.IID),
				)

				if _, err := e.manager.DirectMerge(ctx, record.Repository, record.IID); err != nil {
					logger.Info(
						"direct merge failed, continuing to poll",
						logfields.Event("direct_merge_nudge_failed"),
						logfields.MergeRequest(record.IID),
						zap.Error(err),
					)
				}

				continue
			}
		}

		if err := w.Wait(ctx); err != nil {
			if errors.Is(err, errDeadlineReached) {
				return edgeResult{
					outcome: edgeFailed,
					reason:  fmt.Sprintf("merge request was not merged within %s", e.pipelineTimeout),
					link:    record.WebURL,
				}
			}

			return edgeResult{
				outcome: edgeFailed,
				reason:  fmt.Sprintf("waiting for merge aborted: %s", err),
				link:    record.WebURL,
			}
		}
	}
}

// awaitDeployment waits until the latest deployment to the environment
// succeeds. A missing deployment counts as still running, the merge may
// not have triggered it yet.
func (e *Engine) awaitDeployment(ctx context.Context, repo *strategy.Repository, env *strategy.Environment, logger *zap.Logger) error {
	logger.Info(
		"waiting for deployment",
		logfields.Event("deployment_wait_started"),
		logfields.Environment(env.Name),
	)

	logF := []zap.Field{
		logfields.Repository(repo.Name),
		logfields.Environment(env.Name),
		logfields.Event("deployment_status_polled"),
	}

	w := newWaiter(e.pollInterval, time.Now().Add(e.deploymentTimeout))

	for {
		var status forge.DeploymentStatus

		err := e.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			status, err = e.clt.DeploymentStatus(ctx, repo.Name, env.Name)
			return err
		}, logF)
		if err != nil {
			return fmt.Errorf("polling deployment status: %w", err)
		}

		switch status {
		case forge.DeploymentStatusSuccess:
			logger.Info(
				"deployment succeeded",
				logfields.Event("deployment_succeeded"),
				logfields.Environment(env.Name),
			)

			return nil

		case forge.DeploymentStatusFailed, forge.DeploymentStatusCanceled:
			return fmt.Errorf("deployment is %s", status)
		}

		if err := w.Wait(ctx); err != nil {
			if errors.Is(err, errDeadlineReached) {
				return fmt.Errorf("deployment did not succeed within %s", e.deploymentTimeout)
			}

			return err
		}
	}
}

// scanAdditional diffs the configured scan branches against the terminal
// branch and drives an edge for every branch that still carries commits.
// The diff runs immediately before each edge is materialized, commits that
// already arrived through the flow do not produce edges. Scan branches
// that do not exist in the repository are skipped.
func (e *Engine) scanAdditional(ctx context.Context, repo *strategy.Repository, logger *zap.Logger) {
	terminal := repo.Strategy.Terminal()

	for _, branch := range repo.Strategy.ScanBranches() {
		commits, err := e.differ.Diff(ctx, repo.Name, branch, terminal)
		if err != nil {
			if errors.Is(err, forge.ErrBranchNotFound) {
				logger.Debug(
					"scan branch does not exist, skipped",
					logfields.Event("scan_branch_skipped"),
					logfields.Branch(branch),
				)

				continue
			}

			edge := repo.Strategy.AdditionalEdge(branch)
			e.failRepository(ctx, phaseAdditional, repo, edge, failedResult("comparing branches failed: %s", err), logger)

			return
		}

		if len(commits) == 0 {
			continue
		}

		edge := repo.Strategy.AdditionalEdge(branch)
		edgeLogger := logger.With(logfields.Edge(edge.String()))

		edgeLogger.Info(
			"branch still carries commits, driving additional edge",
			logfields.Event("additional_edge_found"),
			logfields.Branch(branch),
			zap.Int("commit_count", len(commits)),
		)

		e.stats.add(func(s *runStats) { s.AdditionalEdges++ })
		metrics.AdditionalEdgeInc(repo.Name)

		result := e.driveEdge(ctx, phaseAdditional, repo, edge, commits, edgeLogger)

		switch result.outcome {
		case edgeFailed:
			e.failRepository(ctx, phaseAdditional, repo, edge, result, edgeLogger)
			return

		case edgeManualMerge:
			e.manualMergeRepository(ctx, phaseAdditional, repo, edge, result, edgeLogger)
			return
		}
	}
}

func (e *Engine) completeRepository(ctx context.Context, phase string, repo *strategy.Repository, logger *zap.Logger) {
	e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
		repoState.Status = string(StatusCompleted)
		repoState.Reason = ""
	})

	logger.Info(
		"repository completed its flow",
		logfields.Event("repository_completed"),
	)

	e.notify(ctx, &notify.Event{
		Phase:      phase,
		Repository: repo.Name,
		Status:     string(StatusCompleted),
	})
}

func (e *Engine) failRepository(ctx context.Context, phase string, repo *strategy.Repository, edge *strategy.Edge, result edgeResult, logger *zap.Logger) {
	e.stats.add(func(s *runStats) { s.EdgesFailed++ })
	metrics.EdgeProcessedInc(repo.Name, "failed")

	e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
		repoState.Status = string(StatusFailed)
		repoState.Reason = result.reason
		repoState.FailedEdge = edge.String()
	})

	logger.Error(
		"repository failed",
		logfields.Event("repository_failed"),
		logfields.Edge(edge.String()),
		logfields.Reason(result.reason),
	)

	event := &notify.Event{
		Phase:      phase,
		Repository: repo.Name,
		Edge:       edge.String(),
		Status:     string(StatusFailed),
		Reason:     result.reason,
	}
	if result.link != "" {
		event.Links = []string{result.link}
	}

	e.notify(ctx, event)
}

func (e *Engine) manualMergeRepository(ctx context.Context, phase string, repo *strategy.Repository, edge *strategy.Edge, result edgeResult, logger *zap.Logger) {
	e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
		repoState.Status = string(StatusPending)
		repoState.Reason = result.reason
		repoState.FailedEdge = edge.String()
		repoState.ManualMerge = true
	})

	logger.Warn(
		"merge request must be merged manually",
		logfields.Event("manual_merge_required"),
		logfields.Edge(edge.String()),
		logfields.Reason(result.reason),
		zap.String("merge_request_url", result.link),
	)

	e.notify(ctx, &notify.Event{
		Phase:      phase,
		Repository: repo.Name,
		Edge:       edge.String(),
		Status:     "manual_merge_required",
		Reason:     result.reason,
		Links:      []string{result.link},
	})
}

// recordMergeRequest persists the merge request reference and retry count
// of the record's edge.
func (e *Engine) recordMergeRequest(record *automerge.Record) {
	e.updateRepo(record.Repository, func(repoState *statestore.RepoState) {
		if repoState.MergeRequests == nil {
			repoState.MergeRequests = map[string]statestore.MergeRequestRef{}
		}

		if repoState.RetryCounts == nil {
			repoState.RetryCounts = map[string]uint{}
		}

		edgeName := record.Edge.String()

		repoState.MergeRequests[edgeName] = statestore.MergeRequestRef{
			IID:        record.IID,
			WebURL:     record.WebURL,
			State:      string(record.State),
			Additional: record.Additional,
		}

		if record.RetryCount != 0 {
			repoState.RetryCounts[edgeName] = record.RetryCount
		}
	})
}
