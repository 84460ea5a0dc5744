package forge

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/logfields"
)

// DryClient is a Client that does not do any changes on the forge.
// All operations that could cause a change are simulated and always succeed.
// Read operations are forwarded to the wrapped Client, except that merge
// request status reads report simulated successful transitions, so that the
// caller's state machine paths are exercised end to end.
type DryClient struct {
	clt    Client
	logger *zap.Logger

	mu        sync.Mutex
	nextIID   int
	simulated map[string]map[int]*MergeRequest
}

func NewDryClient(clt Client, logger *zap.Logger) *DryClient {
	return &DryClient{
		clt:       clt,
		logger:    logger.Named("dry_client"),
		nextIID:   1,
		simulated: map[string]map[int]*MergeRequest{},
	}
}

func (c *DryClient) BranchExists(ctx context.Context, repo, branch string) (bool, error) {
	return c.clt.BranchExists(ctx, repo, branch)
}

func (c *DryClient) CompareBranches(ctx context.Context, repo, source, target string) ([]*Commit, error) {
	return c.clt.CompareBranches(ctx, repo, source, target)
}

func (c *DryClient) FindMergeRequest(ctx context.Context, repo, source, target string) (*MergeRequest, error) {
	return c.clt.FindMergeRequest(ctx, repo, source, target)
}

func (c *DryClient) CreateMergeRequest(_ context.Context, repo string, opts CreateMROptions) (*MergeRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mr := &MergeRequest{
		IID:          c.nextIID,
		WebURL:       "dry-run://" + repo,
		Title:        opts.Title,
		State:        MergeRequestStateOpened,
		SourceBranch: opts.SourceBranch,
		TargetBranch: opts.TargetBranch,
	}
	c.nextIID++

	if c.simulated[repo] == nil {
		c.simulated[repo] = map[int]*MergeRequest{}
	}
	c.simulated[repo][mr.IID] = mr

	c.logger.Info(
		"simulated creating merge request",
		logfields.Repository(repo),
		logfields.SourceBranch(opts.SourceBranch),
		logfields.TargetBranch(opts.TargetBranch),
		logfields.MergeRequest(mr.IID),
		logfields.Event("dry_merge_request_created"),
	)

	return mr, nil
}

// GetMergeRequest reports merge requests as merged, simulating a successful
// auto-merge transition. Simulated merge requests are answered from memory,
// real ones are fetched from the wrapped client first.
func (c *DryClient) GetMergeRequest(ctx context.Context, repo string, iid int) (*MergeRequest, error) {
	c.mu.Lock()
	mr := c.simulated[repo][iid]
	c.mu.Unlock()

	if mr == nil {
		real, err := c.clt.GetMergeRequest(ctx, repo, iid)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		mr = real
	}

	if mr == nil {
		return nil, ErrNotFound
	}

	result := *mr
	result.State = MergeRequestStateMerged

	c.logger.Info(
		"simulated merge request status read, reporting merged",
		logfields.Repository(repo),
		logfields.MergeRequest(iid),
		logfields.Event("dry_merge_request_status"),
	)

	return &result, nil
}

func (c *DryClient) EnableAutoMerge(_ context.Context, repo string, iid int) error {
	c.logger.Info(
		"simulated enabling auto-merge",
		logfields.Repository(repo),
		logfields.MergeRequest(iid),
		logfields.Event("dry_auto_merge_enabled"),
	)
	return nil
}

func (c *DryClient) EnableAutoMergeRaw(_ context.Context, repo string, iid int) error {
	c.logger.Info(
		"simulated enabling auto-merge via raw endpoint",
		logfields.Repository(repo),
		logfields.MergeRequest(iid),
		logfields.Event("dry_auto_merge_enabled"),
	)
	return nil
}

func (c *DryClient) Merge(_ context.Context, repo string, iid int) error {
	c.logger.Info(
		"simulated merging merge request",
		logfields.Repository(repo),
		logfields.MergeRequest(iid),
		logfields.Event("dry_merge_request_merged"),
	)
	return nil
}

func (c *DryClient) PipelineStatus(ctx context.Context, repo, branch string) (PipelineStatus, error) {
	return c.clt.PipelineStatus(ctx, repo, branch)
}

// DeploymentStatus reports success so that dry runs do not wait for real
// deployments that the simulated merges can never trigger.
func (c *DryClient) DeploymentStatus(_ context.Context, repo, environment string) (DeploymentStatus, error) {
	c.logger.Info(
		"simulated deployment status read, reporting success",
		logfields.Repository(repo),
		logfields.Environment(environment),
		logfields.Event("dry_deployment_status"),
	)
	return DeploymentStatusSuccess, nil
}
