package progression

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/notify"
	"github.com/relmatic/mergeflow/internal/statestore"
	"github.com/relmatic/mergeflow/internal/strategy"
)

const phaseBypass = "bypass"

// MergePair names one merge request for the direct-merge bypass.
type MergePair struct {
	Repository string
	IID        int
}

func (p MergePair) String() string {
	return fmt.Sprintf("%s:%d", p.Repository, p.IID)
}

// ParseMergePairs parses a "<repository>:<iid>,<repository>:<iid>" argument.
func ParseMergePairs(in string) ([]MergePair, error) {
	var result []MergePair

	for _, pair := range strings.Split(in, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		sep := strings.LastIndex(pair, ":")
		if sep <= 0 || sep == len(pair)-1 {
			return nil, fmt.Errorf("invalid merge pair %q, expected <repository>:<merge request iid>", pair)
		}

		iid, err := strconv.Atoi(pair[sep+1:])
		if err != nil || iid <= 0 {
			return nil, fmt.Errorf("invalid merge request iid in pair %q", pair)
		}

		result = append(result, MergePair{
			Repository: pair[:sep],
			IID:        iid,
		})
	}

	if len(result) == 0 {
		return nil, errors.New("no merge pairs given")
	}

	return result, nil
}

// DirectMergeBypass merges the named merge requests immediately, bypassing
// diffing, dependency gating and auto-merge. The progression state is updated
// to stay consistent with the external action: a merge that matches the
// repository's current planned edge advances the edge index, any other merge
// is recorded as additional work. The returned summary covers only the named
// repositories.
func (e *Engine) DirectMergeBypass(ctx context.Context, pairs []MergePair) *Summary {
	e.initState()

	e.logger.Info(
		"direct-merge bypass started",
		logfields.Event("bypass_started"),
		logfields.RunID(e.runID),
		zap.Int("merge_requests", len(pairs)),
	)

	var touched []string
	seen := map[string]struct{}{}

	for _, pair := range pairs {
		repo, exists := e.registry.Repository(pair.Repository)
		if !exists {
			e.logger.Error(
				"repository is not configured, merge request skipped",
				logfields.Event("bypass_repository_unknown"),
				logfields.Repository(pair.Repository),
				logfields.MergeRequest(pair.IID),
			)

			continue
		}

		if _, dup := seen[repo.Name]; !dup {
			seen[repo.Name] = struct{}{}
			touched = append(touched, repo.Name)
		}

		mr, err := e.manager.DirectMerge(ctx, repo.Name, pair.IID)
		if err != nil {
			e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
				repoState.Status = string(StatusFailed)
				repoState.Reason = fmt.Sprintf("direct merge of !%d failed: %s", pair.IID, err)
			})

			e.logger.Error(
				"direct merge failed",
				logfields.Event("bypass_merge_failed"),
				logfields.Repository(repo.Name),
				logfields.MergeRequest(pair.IID),
				zap.Error(err),
			)

			e.notify(ctx, &notify.Event{
				Phase:      phaseBypass,
				Repository: repo.Name,
				Status:     string(StatusFailed),
				Reason:     err.Error(),
			})

			continue
		}

		e.applyBypassedMerge(repo, mr)

		e.notify(ctx, &notify.Event{
			Phase:      phaseBypass,
			Repository: repo.Name,
			Edge:       mr.SourceBranch + " -> " + mr.TargetBranch,
			Status:     "merged",
			Links:      []string{mr.WebURL},
		})
	}

	return e.summarizeNames(touched)
}

// applyBypassedMerge records the externally merged merge request in the
// repository's progression state. When the merge matches the current planned
// edge the index advances past it, completing the repository when it was the
// final edge. Every other merge is recorded as additional work.
func (e *Engine) applyBypassedMerge(repo *strategy.Repository, mr *forge.MergeRequest) {
	edges := repo.Strategy.Edges()

	e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
		if repoState.MergeRequests == nil {
			repoState.MergeRequests = map[string]statestore.MergeRequestRef{}
		}

		edgeName := mr.SourceBranch + " -> " + mr.TargetBranch
		ref := statestore.MergeRequestRef{
			IID:    mr.IID,
			WebURL: mr.WebURL,
			State:  string(mr.State),
		}

		idx := repoState.EdgeIndex
		planned := idx < len(edges) &&
			edges[idx].From == mr.SourceBranch &&
			edges[idx].To == mr.TargetBranch

		if !planned {
			ref.Additional = true
			repoState.MergeRequests[edgeName] = ref

			e.logger.Info(
				"merge recorded as additional work",
				logfields.Event("bypass_merge_additional"),
				logfields.Repository(repo.Name),
				logfields.Edge(edgeName),
				logfields.MergeRequest(mr.IID),
			)

			return
		}

		repoState.MergeRequests[edgeName] = ref
		repoState.EdgeIndex = idx + 1

		if repoState.EdgeIndex == len(edges) {
			repoState.Status = string(StatusCompleted)
			repoState.Reason = ""
		} else if repoState.Status != string(StatusCompleted) {
			repoState.Status = string(StatusPending)
			repoState.Reason = fmt.Sprintf("edge %s merged via bypass", edgeName)
		}

		e.logger.Info(
			"planned edge merged via bypass, index advanced",
			logfields.Event("bypass_merge_planned_edge"),
			logfields.Repository(repo.Name),
			logfields.Edge(edgeName),
			logfields.MergeRequest(mr.IID),
		)
	})
}
