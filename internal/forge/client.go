package forge

import "context"

// Client is the forge API used by the commit differ and the merge-request
// lifecycle manager. Repositories are addressed by their full forge path
// (e.g. "group/app" or "owner/repo").
//
// Implementations wrap transient failures (network errors, rate limits, 5xx
// responses) in flowerr.RetryableError so that callers can retry them.
type Client interface {
	// BranchExists reports whether the branch exists in the repository.
	BranchExists(ctx context.Context, repo, branch string) (bool, error)

	// CompareBranches returns the commits that are reachable from source
	// but not contained in target, oldest first.
	// It returns an error wrapping ErrBranchNotFound when either branch
	// does not exist.
	CompareBranches(ctx context.Context, repo, source, target string) ([]*Commit, error)

	// FindMergeRequest returns the open merge request from source to
	// target or an error wrapping ErrNotFound when none exists.
	FindMergeRequest(ctx context.Context, repo, source, target string) (*MergeRequest, error)

	// CreateMergeRequest opens a new merge request.
	// It returns an error wrapping ErrAlreadyExists when an open merge
	// request for the same branch pair already exists.
	CreateMergeRequest(ctx context.Context, repo string, opts CreateMROptions) (*MergeRequest, error)

	// GetMergeRequest returns the merge request with the given IID or an
	// error wrapping ErrNotFound.
	GetMergeRequest(ctx context.Context, repo string, iid int) (*MergeRequest, error)

	// EnableAutoMerge enables merging the merge request automatically as
	// soon as its pipeline succeeds.
	EnableAutoMerge(ctx context.Context, repo string, iid int) error

	// EnableAutoMergeRaw enables auto-merge through the plain HTTP
	// endpoint, bypassing the typed API layer.
	// It returns an error wrapping ErrUnsupported when the forge has no
	// such alternate route.
	EnableAutoMergeRaw(ctx context.Context, repo string, iid int) error

	// Merge merges the merge request immediately.
	// It returns an error wrapping ErrNotMergeable when the forge refuses
	// the merge in the current state.
	Merge(ctx context.Context, repo string, iid int) error

	// PipelineStatus returns the status of the latest pipeline for the
	// branch, or PipelineStatusNone when the branch never ran one.
	PipelineStatus(ctx context.Context, repo, branch string) (PipelineStatus, error)

	// DeploymentStatus returns the status of the latest deployment to the
	// environment, or DeploymentStatusNone when none exists.
	DeploymentStatus(ctx context.Context, repo, environment string) (DeploymentStatus, error)
}
