// Package automerge creates merge requests for edges and drives them toward
// an automatic merge.
package automerge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/flowerr"
	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/retry"
	"github.com/relmatic/mergeflow/internal/strategy"
)

const loggerName = "automerge"

// ErrAutoMergeUnsupported is returned when every auto-merge method was
// exhausted without success. The merge request stays open for a manual
// merge.
var ErrAutoMergeUnsupported = errors.New("all auto-merge methods exhausted")

// method is one way of driving an open merge request toward an automatic
// merge. resultState is the record state reached when the method succeeds.
type method struct {
	name        string
	run         func(ctx context.Context, record *Record) error
	resultState RecordState
}

// Manager implements the merge request lifecycle: ensuring an MR exists for
// an edge, enabling auto-merge via an ordered sequence of fallback methods,
// polling its status and merging directly.
type Manager struct {
	clt           forge.Client
	retryer       *retry.Retryer
	logger        *zap.Logger
	retryAttempts uint
	retryBackoff  time.Duration
	runLabel      string
	autoMerge     bool
}

func NewManager(
	clt forge.Client,
	retryer *retry.Retryer,
	retryAttempts uint,
	retryBackoff time.Duration,
	runLabel string,
	autoMerge bool,
) *Manager {
	return &Manager{
		clt:           clt,
		retryer:       retryer,
		logger:        zap.L().Named(loggerName),
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		runLabel:      runLabel,
		autoMerge:     autoMerge,
	}
}

// Ensure returns the open merge request for the edge, creating it when none
// exists. It never creates a duplicate while one is open for the same
// source and target branch.
func (m *Manager) Ensure(ctx context.Context, repo string, edge *strategy.Edge, commits []*forge.Commit) (*Record, error) {
	logF := []zap.Field{
		logfields.Repository(repo),
		logfields.SourceBranch(edge.From),
		logfields.TargetBranch(edge.To),
	}

	mr, err := m.findOpen(ctx, repo, edge, logF)
	if err != nil {
		return nil, err
	}

	if mr != nil {
		record := m.newRecord(repo, edge, mr, true)

		m.logger.Info(
			"existing merge request reused",
			append(logF, logfields.MergeRequest(record.IID), logfields.Event("merge_request_reused"))...,
		)

		return record, nil
	}

	opts := forge.CreateMROptions{
		SourceBranch: edge.From,
		TargetBranch: edge.To,
		Title:        edge.String(),
		Description:  m.description(edge, len(commits)),
	}

	var created *forge.MergeRequest

	err = m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		created, err = m.clt.CreateMergeRequest(ctx, repo, opts)
		if errors.Is(err, forge.ErrAlreadyExists) {
			created, err = m.clt.FindMergeRequest(ctx, repo, edge.From, edge.To)
		}

		return err
	}, append(logF, logfields.Event("merge_request_ensured")))
	if err != nil {
		return nil, fmt.Errorf("ensuring merge request for %s: %w", edge, err)
	}

	return m.newRecord(repo, edge, created, false), nil
}

func (m *Manager) findOpen(ctx context.Context, repo string, edge *strategy.Edge, logF []zap.Field) (*forge.MergeRequest, error) {
	var mr *forge.MergeRequest

	err := m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		mr, err = m.clt.FindMergeRequest(ctx, repo, edge.From, edge.To)
		if errors.Is(err, forge.ErrNotFound) {
			mr = nil
			return nil
		}

		return err
	}, append(logF, logfields.Event("merge_request_searched")))
	if err != nil {
		return nil, fmt.Errorf("searching merge request for %s: %w", edge, err)
	}

	return mr, nil
}

func (m *Manager) newRecord(repo string, edge *strategy.Edge, mr *forge.MergeRequest, reused bool) *Record {
	now := time.Now()

	record := Record{
		Repository: repo,
		Edge:       edge,
		IID:        mr.IID,
		WebURL:     mr.WebURL,
		State:      StateOpen,
		Additional: edge.Additional,
		Reused:     reused,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch {
	case mr.State == forge.MergeRequestStateMerged:
		record.State = StateMerged
	case mr.HasConflicts:
		record.State = StateConflict
	}

	return &record
}

func (m *Manager) description(edge *strategy.Edge, commitCount int) string {
	var result strings.Builder

	fmt.Fprintf(&result, "**%s**\n\n", edge)
	fmt.Fprintf(&result, "%d commits", commitCount)

	if m.autoMerge {
		result.WriteString(" - auto-merge enabled")
	}

	if m.runLabel != "" {
		result.WriteString(" - " + m.runLabel)
	}

	return result.String()
}

// EnableAutoMerge tries the ordered auto-merge methods until one succeeds.
// Every method is attempt-bounded with exponential backoff; a permanent
// failure falls through to the next method. When all methods are exhausted
// an error wrapping ErrAutoMergeUnsupported is returned and the merge
// request is left open for a manual merge.
func (m *Manager) EnableAutoMerge(ctx context.Context, record *Record) error {
	logF := []zap.Field{
		logfields.Repository(record.Repository),
		logfields.MergeRequest(record.IID),
	}

	for _, method := range m.methods() {
		err := m.attempt(ctx, method, record)
		if err == nil {
			record.State = method.resultState
			record.touch()

			m.logger.Info(
				"auto-merge enabled",
				append(logF,
					zap.String("auto_merge_method", method.name),
					logfields.Event("auto_merge_enabled"),
				)...,
			)

			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		m.logger.Info(
			"auto-merge method failed, trying next",
			append(logF,
				zap.String("auto_merge_method", method.name),
				zap.Error(err),
				logfields.Event("auto_merge_method_failed"),
			)...,
		)
	}

	return fmt.Errorf("merge request !%d in %s: %w", record.IID, record.Repository, ErrAutoMergeUnsupported)
}

func (m *Manager) methods() []method {
	return []method{
		{
			name:        "merge_when_pipeline_succeeds",
			run:         m.enableMergeWhenPipelineSucceeds,
			resultState: StateAutoMergeEnabled,
		},
		{
			name:        "merge_without_pipeline",
			run:         m.mergeWithoutPipeline,
			resultState: StateMerged,
		},
		{
			name:        "raw_auto_merge_endpoint",
			run:         m.enableRawEndpoint,
			resultState: StateAutoMergeEnabled,
		},
		{
			name:        "immediate_merge",
			run:         m.mergeImmediately,
			resultState: StateMerged,
		},
	}
}

// attempt runs one method, retrying transient failures with exponential
// backoff up to the configured attempt count. Permanent failures abort the
// attempt immediately.
func (m *Manager) attempt(ctx context.Context, method method, record *Record) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = m.retryBackoff

	bo := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(m.retryAttempts)), ctx)

	return backoff.Retry(func() error {
		err := method.run(ctx, record)
		if err == nil {
			return nil
		}

		var retryErr *flowerr.RetryableError
		if errors.As(err, &retryErr) {
			record.RetryCount++
			record.touch()
			return err
		}

		return backoff.Permanent(err)
	}, bo)
}

func (m *Manager) enableMergeWhenPipelineSucceeds(ctx context.Context, record *Record) error {
	return m.clt.EnableAutoMerge(ctx, record.Repository, record.IID)
}

// mergeWithoutPipeline merges directly when the source branch pipeline
// already passed or the repository runs no pipeline at all.
func (m *Manager) mergeWithoutPipeline(ctx context.Context, record *Record) error {
	status, err := m.clt.PipelineStatus(ctx, record.Repository, record.Edge.From)
	if err != nil {
		return err
	}

	switch status {
	case forge.PipelineStatusSuccess, forge.PipelineStatusNone, forge.PipelineStatusSkipped:
		return m.clt.Merge(ctx, record.Repository, record.IID)
	}

	return fmt.Errorf("pipeline on %s is %s, merge without pipeline not applicable", record.Edge.From, status)
}

func (m *Manager) enableRawEndpoint(ctx context.Context, record *Record) error {
	return m.clt.EnableAutoMergeRaw(ctx, record.Repository, record.IID)
}

func (m *Manager) mergeImmediately(ctx context.Context, record *Record) error {
	return m.clt.Merge(ctx, record.Repository, record.IID)
}

// Poll reads the merge request and pipeline status once and classifies the
// result. Transient API failures are retried before they surface. The
// caller owns the wait cadence between polls.
func (m *Manager) Poll(ctx context.Context, record *Record) (PollResult, error) {
	logF := []zap.Field{
		logfields.Repository(record.Repository),
		logfields.MergeRequest(record.IID),
	}

	var mr *forge.MergeRequest

	err := m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		mr, err = m.clt.GetMergeRequest(ctx, record.Repository, record.IID)
		return err
	}, append(logF, logfields.Event("merge_request_polled")))
	if err != nil {
		return "", fmt.Errorf("polling merge request !%d: %w", record.IID, err)
	}

	switch mr.State {
	case forge.MergeRequestStateMerged:
		record.State = StateMerged
		record.touch()
		return PollMerged, nil

	case forge.MergeRequestStateClosed, forge.MergeRequestStateLocked:
		record.State = StateFailed
		record.touch()
		return PollBlocked, nil
	}

	if mr.HasConflicts {
		record.State = StateConflict
		record.touch()
		return PollMergeConflict, nil
	}

	var pipeline forge.PipelineStatus

	err = m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		pipeline, err = m.clt.PipelineStatus(ctx, record.Repository, record.Edge.From)
		return err
	}, append(logF, logfields.Branch(record.Edge.From), logfields.Event("pipeline_status_polled")))
	if err != nil {
		return "", fmt.Errorf("polling pipeline status of %s: %w", record.Edge.From, err)
	}

	switch pipeline {
	case forge.PipelineStatusFailed, forge.PipelineStatusCanceled:
		record.State = StateFailed
		record.touch()
		return PollPipelineFailed, nil

	case forge.PipelineStatusSuccess, forge.PipelineStatusNone, forge.PipelineStatusSkipped:
		record.State = StatePipelinePassed
		record.touch()
		return PollBlocked, nil

	default:
		record.State = StatePipelinePending
		record.touch()
		return PollPipelineRunning, nil
	}
}

// DirectMerge merges the merge request immediately, regardless of pipeline
// and progression state. Merging an already merged merge request is not an
// error.
func (m *Manager) DirectMerge(ctx context.Context, repo string, iid int) (*forge.MergeRequest, error) {
	logF := []zap.Field{
		logfields.Repository(repo),
		logfields.MergeRequest(iid),
	}

	var mr *forge.MergeRequest

	err := m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		mr, err = m.clt.GetMergeRequest(ctx, repo, iid)
		return err
	}, append(logF, logfields.Event("merge_request_polled")))
	if err != nil {
		return nil, fmt.Errorf("direct merge of !%d: %w", iid, err)
	}

	if mr.State == forge.MergeRequestStateMerged {
		return mr, nil
	}

	err = m.retryer.Run(ctx, func(ctx context.Context) error {
		return m.clt.Merge(ctx, repo, iid)
	}, append(logF, logfields.Event("merge_request_merged_directly")))
	if err != nil {
		return nil, fmt.Errorf("direct merge of !%d: %w", iid, err)
	}

	err = m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		mr, err = m.clt.GetMergeRequest(ctx, repo, iid)
		return err
	}, append(logF, logfields.Event("merge_request_polled")))
	if err != nil {
		return nil, fmt.Errorf("direct merge of !%d: %w", iid, err)
	}

	m.logger.Info(
		"merge request merged directly",
		append(logF, logfields.Event("merge_request_merged_directly"))...,
	)

	return mr, nil
}
