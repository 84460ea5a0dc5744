// Package progression drives configured repositories through their branch
// flows: it diffs edges, ensures merge requests, enables auto-merge, polls
// pipelines and deployments and cascades to the next edge.
package progression

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/automerge"
	"github.com/relmatic/mergeflow/internal/commitdiff"
	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/notify"
	"github.com/relmatic/mergeflow/internal/retry"
	"github.com/relmatic/mergeflow/internal/routines"
	"github.com/relmatic/mergeflow/internal/statestore"
	"github.com/relmatic/mergeflow/internal/strategy"
)

const loggerName = "progression"

const (
	DefPollInterval      = 10 * time.Second
	DefPipelineTimeout   = 30 * time.Minute
	DefDeploymentTimeout = 20 * time.Minute
	DefConcurrency       = 4
)

const (
	phaseLibraries  = "libraries"
	phaseServices   = "services"
	phaseAdditional = "additional"
	phaseRun        = "run"
)

// Notifier receives progression events. Delivery failures must be handled
// by the implementation, a run never fails because a notification could
// not be delivered.
type Notifier interface {
	Notify(ctx context.Context, event *notify.Event)
}

// Options configures an Engine.
type Options struct {
	Registry *strategy.Registry
	Client   forge.Client
	Differ   *commitdiff.Differ
	Manager  *automerge.Manager
	Store    *statestore.Store
	Retryer  *retry.Retryer
	Notifier Notifier

	RunID string
	// RunLabel is stamped into every emitted notification event.
	RunLabel string
	Mode     Mode

	// Resume continues from the state file of an earlier interrupted run
	// when one exists and was written by a run with the same mode.
	Resume bool
	// DryRun disables writing the state file. The forge client must be
	// wrapped separately to suppress write operations.
	DryRun bool

	Progressive    bool
	SkipEmptyEdges bool
	AutoMerge      bool

	Concurrency       uint
	PollInterval      time.Duration
	PipelineTimeout   time.Duration
	DeploymentTimeout time.Duration
}

// Engine drives all repositories of a run through their flows.
type Engine struct {
	registry *strategy.Registry
	clt      forge.Client
	differ   *commitdiff.Differ
	manager  *automerge.Manager
	store    *statestore.Store
	retryer  *retry.Retryer
	notifier Notifier
	logger   *zap.Logger

	runID    string
	runLabel string
	mode     Mode

	resume bool
	dryRun bool

	progressive    bool
	skipEmptyEdges bool
	autoMerge      bool

	concurrency       uint
	pollInterval      time.Duration
	pipelineTimeout   time.Duration
	deploymentTimeout time.Duration

	stats *runStats

	// mu serializes access to state, which workers of multiple
	// repositories read and write concurrently.
	mu    sync.Mutex
	state *statestore.RunState
}

func New(opts Options) *Engine {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	if opts.Mode == "" {
		opts.Mode = ModeFull
	}

	if opts.Notifier == nil {
		opts.Notifier = notify.NewMulti(notify.NewLogSink())
	}

	if opts.Concurrency == 0 {
		opts.Concurrency = DefConcurrency
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = DefPollInterval
	}

	if opts.PipelineTimeout == 0 {
		opts.PipelineTimeout = DefPipelineTimeout
	}

	if opts.DeploymentTimeout == 0 {
		opts.DeploymentTimeout = DefDeploymentTimeout
	}

	return &Engine{
		registry:          opts.Registry,
		clt:               opts.Client,
		differ:            opts.Differ,
		manager:           opts.Manager,
		store:             opts.Store,
		retryer:           opts.Retryer,
		notifier:          opts.Notifier,
		logger:            zap.L().Named(loggerName),
		runID:             opts.RunID,
		runLabel:          opts.RunLabel,
		mode:              opts.Mode,
		resume:            opts.Resume,
		dryRun:            opts.DryRun,
		progressive:       opts.Progressive,
		skipEmptyEdges:    opts.SkipEmptyEdges,
		autoMerge:         opts.AutoMerge,
		concurrency:       opts.Concurrency,
		pollInterval:      opts.PollInterval,
		pipelineTimeout:   opts.PipelineTimeout,
		deploymentTimeout: opts.DeploymentTimeout,
		stats:             newRunStats(),
	}
}

// Run processes all repositories that the mode selects and returns the run
// summary. Library repositories are processed before service repositories,
// services stay blocked when not all libraries complete. Run always
// produces a summary, also when ctx is cancelled mid-run.
func (e *Engine) Run(ctx context.Context) *Summary {
	e.initState()

	e.logger.Info(
		"run started",
		logfields.Event("run_started"),
		logfields.RunID(e.runID),
		zap.String("mode", string(e.mode)),
		zap.Bool("dry_run", e.dryRun),
	)

	switch e.mode {
	case ModeLibOnly:
		e.runPhase(ctx, phaseLibraries, e.registry.Libraries())

	case ModeServiceOnly:
		e.runPhase(ctx, phaseServices, e.registry.Services())

	default:
		e.runPhase(ctx, phaseLibraries, e.registry.Libraries())

		if incomplete := e.incompleteLibraries(); len(incomplete) != 0 {
			e.blockServices(ctx, incomplete)
		} else {
			e.runPhase(ctx, phaseServices, e.registry.Services())
		}
	}

	e.stats.EndTime = time.Now()

	summary := e.summarize()

	e.logger.Info(
		"run finished",
		append([]zap.Field{
			logfields.Event("run_finished"),
			logfields.RunID(e.runID),
			zap.Int("exit_code", summary.ExitCode()),
		}, e.stats.LogFields()...)...,
	)

	e.notify(ctx, &notify.Event{
		Phase:  phaseRun,
		Status: summaryStatus(summary),
	})

	e.finishState(summary)

	return summary
}

func summaryStatus(summary *Summary) string {
	if summary.FullySuccessful() {
		return string(StatusCompleted)
	}

	if len(summary.Failed()) != 0 {
		return string(StatusFailed)
	}

	return string(StatusPending)
}

// runPhase processes the repositories concurrently and blocks until all of
// them finished.
func (e *Engine) runPhase(ctx context.Context, phase string, repos []*strategy.Repository) {
	if len(repos) == 0 {
		return
	}

	e.logger.Info(
		"phase started",
		logfields.Event("phase_started"),
		logfields.RunID(e.runID),
		zap.String("phase", phase),
		zap.Int("repositories", len(repos)),
	)

	e.notify(ctx, &notify.Event{
		Phase:  phase,
		Status: "started",
	})

	pool := routines.NewPool(e.concurrency)

	for _, repo := range repos {
		repo := repo

		pool.Queue(func() {
			e.processRepository(ctx, phase, repo)
		})
	}

	pool.Wait()
}

// initState creates the in-memory run state, resuming from the state file
// when enabled, and reconciles it with the configured repositories.
func (e *Engine) initState() {
	state := e.loadState()
	if state == nil {
		state = statestore.NewRunState(e.runID, string(e.mode))
	} else {
		e.runID = state.RunID
	}

	configured := map[string]struct{}{}

	for _, repo := range e.registry.Repositories() {
		configured[repo.Name] = struct{}{}

		repoState, exist := state.Repositories[repo.Name]
		if exist && repoState.Strategy == repo.Strategy.Name {
			if repoState.Status != string(StatusCompleted) {
				repoState.Status = string(StatusPending)
				repoState.Reason = ""
				repoState.FailedEdge = ""
				repoState.ManualMerge = false
			}

			continue
		}

		state.Repositories[repo.Name] = &statestore.RepoState{
			Strategy:      repo.Strategy.Name,
			Status:        string(StatusPending),
			RetryCounts:   map[string]uint{},
			MergeRequests: map[string]statestore.MergeRequestRef{},
			UpdatedAt:     time.Now(),
		}
	}

	for name := range state.Repositories {
		if _, exist := configured[name]; !exist {
			delete(state.Repositories, name)
		}
	}

	if e.mode == ModeFull {
		for _, repo := range e.registry.Services() {
			repoState := state.Repositories[repo.Name]
			if repoState.Status == string(StatusCompleted) {
				continue
			}

			repoState.Status = string(StatusBlockedWaitingDependency)
			repoState.Reason = "waiting for library repositories"
		}
	}

	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *Engine) loadState() *statestore.RunState {
	if !e.resume {
		return nil
	}

	state, err := e.store.Load()
	if err != nil {
		if !errors.Is(err, statestore.ErrNoState) {
			e.logger.Warn(
				"loading the state file failed, starting a fresh run",
				logfields.Event("state_load_failed"),
				zap.Error(err),
			)
		}

		return nil
	}

	if state.Mode != string(e.mode) {
		e.logger.Info(
			"state file was written by a run with a different mode, starting a fresh run",
			logfields.Event("state_mode_mismatch"),
			zap.String("state_file_mode", state.Mode),
			zap.String("mode", string(e.mode)),
		)

		return nil
	}

	e.logger.Info(
		"resuming interrupted run",
		logfields.Event("run_resumed"),
		logfields.RunID(state.RunID),
	)

	return state
}

// updateRepo mutates the state of one repository and persists the state
// file, unless the run is a dry-run.
func (e *Engine) updateRepo(name string, mutate func(*statestore.RepoState)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repoState, exist := e.state.Repositories[name]
	if !exist {
		return
	}

	mutate(repoState)
	repoState.UpdatedAt = time.Now()

	e.persistLocked()
}

func (e *Engine) persistLocked() {
	if e.dryRun {
		return
	}

	if err := e.store.Put(e.state); err != nil {
		e.logger.Warn(
			"persisting the state file failed",
			logfields.Event("state_persist_failed"),
			zap.Error(err),
		)
	}
}

func (e *Engine) repoStatus(name string) (Status, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repoState, exist := e.state.Repositories[name]
	if !exist {
		return StatusPending, 0
	}

	return Status(repoState.Status), repoState.EdgeIndex
}

// incompleteLibraries returns the names of library repositories that did
// not complete their flow.
func (e *Engine) incompleteLibraries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var incomplete []string

	for _, repo := range e.registry.Libraries() {
		if e.state.Repositories[repo.Name].Status != string(StatusCompleted) {
			incomplete = append(incomplete, repo.Name)
		}
	}

	return incomplete
}

// blockServices marks all service repositories that have not completed as
// blocked on the named library repositories.
func (e *Engine) blockServices(ctx context.Context, incomplete []string) {
	reason := "waiting for libraries: " + strings.Join(incomplete, ", ")

	for _, repo := range e.registry.Services() {
		if status, _ := e.repoStatus(repo.Name); status == StatusCompleted {
			continue
		}

		e.updateRepo(repo.Name, func(repoState *statestore.RepoState) {
			repoState.Status = string(StatusBlockedWaitingDependency)
			repoState.Reason = reason
		})

		e.logger.Info(
			"service repository blocked, not all libraries completed",
			logfields.Event("repository_blocked"),
			logfields.Repository(repo.Name),
			logfields.Reason(reason),
		)

		e.notify(ctx, &notify.Event{
			Phase:      phaseServices,
			Repository: repo.Name,
			Status:     string(StatusBlockedWaitingDependency),
			Reason:     reason,
		})
	}
}

// finishState clears the state file after a fully successful run and
// persists it otherwise, so that a later run can resume.
func (e *Engine) finishState(summary *Summary) {
	if e.dryRun {
		return
	}

	if summary.FullySuccessful() {
		if err := e.store.Clear(); err != nil {
			e.logger.Warn(
				"clearing the state file failed",
				logfields.Event("state_clear_failed"),
				zap.Error(err),
			)
		}

		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.persistLocked()
}

func (e *Engine) notify(ctx context.Context, event *notify.Event) {
	if event.RunID == "" {
		event.RunID = e.runID
	}

	event.Label = e.runLabel

	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	e.notifier.Notify(ctx, event)
}

// scopeRepositories returns the repositories that the mode selects, in
// configuration order.
func (e *Engine) scopeRepositories() []*strategy.Repository {
	switch e.mode {
	case ModeLibOnly:
		return e.registry.Libraries()
	case ModeServiceOnly:
		return e.registry.Services()
	default:
		return e.registry.Repositories()
	}
}

func (e *Engine) summarize() *Summary {
	repos := e.scopeRepositories()

	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		names = append(names, repo.Name)
	}

	return e.summarizeNames(names)
}

// summarizeNames builds a summary covering the named repositories, in the
// given order. Unknown names are skipped.
func (e *Engine) summarizeNames(names []string) *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	summary := &Summary{
		RunID:    e.runID,
		Mode:     e.mode,
		Started:  e.stats.StartTime,
		Finished: time.Now(),
	}

	for _, name := range names {
		repoState, exist := e.state.Repositories[name]
		if !exist {
			continue
		}

		result := RepoResult{
			Name:        name,
			Status:      Status(repoState.Status),
			Reason:      repoState.Reason,
			ManualMerge: repoState.ManualMerge,
		}

		if ref, exist := repoState.MergeRequests[repoState.FailedEdge]; exist {
			result.Link = ref.WebURL
		}

		summary.Results = append(summary.Results, result)
	}

	return summary
}
