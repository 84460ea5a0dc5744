// Package gitlabclt provides a gitlab API client implementing forge.Client.
package gitlabclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/xanzy/go-gitlab"
	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/flowerr"
	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "gitlab_client"

// New returns a new gitlab API client for the instance at baseURL.
func New(baseURL, apiToken string) (*Client, error) {
	gl, err := gitlab.NewClient(
		apiToken,
		gitlab.WithBaseURL(baseURL),
		gitlab.WithHTTPClient(&http.Client{Timeout: DefaultHTTPClientTimeout}),
		// retrying is owned by the callers via flowerr.RetryableError
		gitlab.WithoutRetries(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client failed: %w", err)
	}

	return &Client{
		gl:     gl,
		logger: zap.L().Named(loggerName),
	}, nil
}

// Client is a gitlab API client.
// All methods wrap errors of operations that can be retried in a
// flowerr.RetryableError. This is e.g. the case when the API rate limit is
// exceeded or the server responded with a 5xx status code.
type Client struct {
	gl     *gitlab.Client
	logger *zap.Logger

	userOnce sync.Once
	userID   *int
}

var _ forge.Client = (*Client)(nil)

func (clt *Client) BranchExists(ctx context.Context, repo, branch string) (bool, error) {
	_, _, err := clt.gl.Branches.GetBranch(repo, branch, gitlab.WithContext(ctx))
	if err != nil {
		if status, ok := httpStatus(err); ok && status == http.StatusNotFound {
			return false, nil
		}

		return false, clt.wrapRetryableErrors(err)
	}

	return true, nil
}

// CompareBranches returns the commits that are contained in source but
// missing in target, oldest first.
func (clt *Client) CompareBranches(ctx context.Context, repo, source, target string) ([]*forge.Commit, error) {
	cmp, _, err := clt.gl.Repositories.Compare(
		repo,
		&gitlab.CompareOptions{
			From: gitlab.String(target),
			To:   gitlab.String(source),
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		if status, ok := httpStatus(err); ok && status == http.StatusNotFound {
			return nil, fmt.Errorf("comparing %s..%s: %w", target, source, forge.ErrBranchNotFound)
		}

		return nil, clt.wrapRetryableErrors(err)
	}

	result := make([]*forge.Commit, 0, len(cmp.Commits))
	for _, c := range cmp.Commits {
		result = append(result, toCommit(c))
	}

	return result, nil
}

func toCommit(c *gitlab.Commit) *forge.Commit {
	commit := forge.Commit{
		SHA:        c.ID,
		Title:      c.Title,
		Message:    c.Message,
		AuthorName: c.AuthorName,
		WebURL:     c.WebURL,
	}

	switch {
	case c.AuthoredDate != nil:
		commit.AuthoredAt = *c.AuthoredDate
	case c.CreatedAt != nil:
		commit.AuthoredAt = *c.CreatedAt
	}

	return &commit
}

func (clt *Client) FindMergeRequest(ctx context.Context, repo, source, target string) (*forge.MergeRequest, error) {
	mrs, _, err := clt.gl.MergeRequests.ListProjectMergeRequests(
		repo,
		&gitlab.ListProjectMergeRequestsOptions{
			State:        gitlab.String("opened"),
			SourceBranch: gitlab.String(source),
			TargetBranch: gitlab.String(target),
			ListOptions:  gitlab.ListOptions{PerPage: 1},
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	if len(mrs) == 0 {
		return nil, fmt.Errorf("open merge request %s -> %s: %w", source, target, forge.ErrNotFound)
	}

	return toMergeRequest(mrs[0]), nil
}

func (clt *Client) CreateMergeRequest(ctx context.Context, repo string, opts forge.CreateMROptions) (*forge.MergeRequest, error) {
	createOpts := gitlab.CreateMergeRequestOptions{
		Title:              gitlab.String(opts.Title),
		Description:        gitlab.String(opts.Description),
		SourceBranch:       gitlab.String(opts.SourceBranch),
		TargetBranch:       gitlab.String(opts.TargetBranch),
		RemoveSourceBranch: gitlab.Bool(false),
		Squash:             gitlab.Bool(false),
	}

	if userID := clt.currentUserID(ctx); userID != nil {
		createOpts.AssigneeID = userID
	}

	mr, _, err := clt.gl.MergeRequests.CreateMergeRequest(repo, &createOpts, gitlab.WithContext(ctx))
	if err != nil {
		if status, ok := httpStatus(err); ok && status == http.StatusConflict {
			return nil, fmt.Errorf("merge request %s -> %s: %w", opts.SourceBranch, opts.TargetBranch, forge.ErrAlreadyExists)
		}

		return nil, clt.wrapRetryableErrors(err)
	}

	clt.logger.Info(
		"merge request created",
		logfields.Repository(repo),
		logfields.SourceBranch(opts.SourceBranch),
		logfields.TargetBranch(opts.TargetBranch),
		logfields.MergeRequest(mr.IID),
		logfields.Event("gitlab_merge_request_created"),
	)

	return toMergeRequest(mr), nil
}

func (clt *Client) GetMergeRequest(ctx context.Context, repo string, iid int) (*forge.MergeRequest, error) {
	mr, _, err := clt.gl.MergeRequests.GetMergeRequest(repo, iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		if status, ok := httpStatus(err); ok && status == http.StatusNotFound {
			return nil, fmt.Errorf("merge request !%d: %w", iid, forge.ErrNotFound)
		}

		return nil, clt.wrapRetryableErrors(err)
	}

	return toMergeRequest(mr), nil
}

func toMergeRequest(mr *gitlab.MergeRequest) *forge.MergeRequest {
	return &forge.MergeRequest{
		IID:          mr.IID,
		WebURL:       mr.WebURL,
		Title:        mr.Title,
		State:        forge.MergeRequestState(mr.State),
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		HasConflicts: mr.HasConflicts,
	}
}

// EnableAutoMerge sets the merge-when-pipeline-succeeds flag on the merge
// request. Gitlab rejects the call with 405/406 when the merge request has no
// running pipeline or is not in a mergeable state, these responses are
// reported as forge.ErrNotMergeable.
func (clt *Client) EnableAutoMerge(ctx context.Context, repo string, iid int) error {
	_, _, err := clt.gl.MergeRequests.AcceptMergeRequest(
		repo,
		iid,
		&gitlab.AcceptMergeRequestOptions{
			MergeWhenPipelineSucceeds: gitlab.Bool(true),
			ShouldRemoveSourceBranch:  gitlab.Bool(false),
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return clt.wrapMergeError(err)
	}

	return nil
}

// EnableAutoMergeRaw sets the merge-when-pipeline-succeeds flag through the
// plain merge endpoint, bypassing the typed API layer. Some gitlab releases
// accept the flag on this route when the typed call is rejected.
func (clt *Client) EnableAutoMergeRaw(ctx context.Context, repo string, iid int) error {
	path := fmt.Sprintf("projects/%s/merge_requests/%d/merge", url.PathEscape(repo), iid)

	body := struct {
		MergeWhenPipelineSucceeds bool `json:"merge_when_pipeline_succeeds"`
		ShouldRemoveSourceBranch  bool `json:"should_remove_source_branch"`
	}{
		MergeWhenPipelineSucceeds: true,
		ShouldRemoveSourceBranch:  false,
	}

	req, err := clt.gl.NewRequest(http.MethodPut, path, body, []gitlab.RequestOptionFunc{gitlab.WithContext(ctx)})
	if err != nil {
		return err
	}

	if _, err := clt.gl.Do(req, nil); err != nil {
		return clt.wrapMergeError(err)
	}

	return nil
}

// Merge merges the merge request immediately.
func (clt *Client) Merge(ctx context.Context, repo string, iid int) error {
	_, _, err := clt.gl.MergeRequests.AcceptMergeRequest(
		repo,
		iid,
		&gitlab.AcceptMergeRequestOptions{
			ShouldRemoveSourceBranch: gitlab.Bool(false),
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return clt.wrapMergeError(err)
	}

	return nil
}

func (clt *Client) PipelineStatus(ctx context.Context, repo, branch string) (forge.PipelineStatus, error) {
	pipelines, _, err := clt.gl.Pipelines.ListProjectPipelines(
		repo,
		&gitlab.ListProjectPipelinesOptions{
			Ref:         gitlab.String(branch),
			OrderBy:     gitlab.String("id"),
			Sort:        gitlab.String("desc"),
			ListOptions: gitlab.ListOptions{PerPage: 1},
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	if len(pipelines) == 0 {
		return forge.PipelineStatusNone, nil
	}

	return toPipelineStatus(pipelines[0].Status), nil
}

func toPipelineStatus(status string) forge.PipelineStatus {
	switch status {
	case "success":
		return forge.PipelineStatusSuccess
	case "failed":
		return forge.PipelineStatusFailed
	case "canceled":
		return forge.PipelineStatusCanceled
	case "skipped":
		return forge.PipelineStatusSkipped
	case "running":
		return forge.PipelineStatusRunning
	default:
		// created, waiting_for_resource, preparing, pending, manual,
		// scheduled
		return forge.PipelineStatusPending
	}
}

func (clt *Client) DeploymentStatus(ctx context.Context, repo, environment string) (forge.DeploymentStatus, error) {
	deployments, _, err := clt.gl.Deployments.ListProjectDeployments(
		repo,
		&gitlab.ListProjectDeploymentsOptions{
			Environment: gitlab.String(environment),
			OrderBy:     gitlab.String("id"),
			Sort:        gitlab.String("desc"),
			ListOptions: gitlab.ListOptions{PerPage: 1},
		},
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	if len(deployments) == 0 {
		return forge.DeploymentStatusNone, nil
	}

	switch deployments[0].Status {
	case "success":
		return forge.DeploymentStatusSuccess, nil
	case "failed":
		return forge.DeploymentStatusFailed, nil
	case "canceled":
		return forge.DeploymentStatusCanceled, nil
	case "running":
		return forge.DeploymentStatusRunning, nil
	default:
		return forge.DeploymentStatusCreated, nil
	}
}

// currentUserID resolves the authenticated user once and caches the result.
// When resolution fails merge requests are created without an assignee.
func (clt *Client) currentUserID(ctx context.Context) *int {
	clt.userOnce.Do(func() {
		user, _, err := clt.gl.Users.CurrentUser(gitlab.WithContext(ctx))
		if err != nil {
			clt.logger.Warn(
				"resolving current user failed, merge requests will not be assigned",
				logfields.Event("gitlab_current_user_unresolved"),
				zap.Error(err),
			)

			return
		}

		clt.userID = &user.ID
		clt.logger.Debug(
			"resolved current user",
			logfields.Event("gitlab_current_user_resolved"),
			zap.String("gitlab.username", user.Username),
		)
	})

	return clt.userID
}

// wrapMergeError maps the status codes that gitlab merge endpoints use for
// "not in a mergeable state" to forge.ErrNotMergeable and wraps everything
// else like wrapRetryableErrors.
func (clt *Client) wrapMergeError(err error) error {
	if status, ok := httpStatus(err); ok {
		switch status {
		case http.StatusMethodNotAllowed, http.StatusNotAcceptable, http.StatusUnprocessableEntity:
			return fmt.Errorf("%v: %w", err, forge.ErrNotMergeable)
		}
	}

	return clt.wrapRetryableErrors(err)
}

func (clt *Client) wrapRetryableErrors(err error) error {
	var respErr *gitlab.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode

		switch {
		case code == http.StatusTooManyRequests:
			reset := rateLimitResetTime(respErr.Response)
			clt.logger.Info(
				"rate limit exceeded",
				logfields.Event("gitlab_api_rate_limit_exceeded"),
				zap.Time("gitlab_api_rate_limit_reset_time", reset),
			)

			return flowerr.NewRetryableError(err, reset)

		case code >= 500 && code < 600:
			return flowerr.NewRetryableAnytimeError(err)
		}

		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return flowerr.NewRetryableAnytimeError(err)
	}

	return err
}

// rateLimitResetTime extracts the earliest retry time from the rate-limit
// headers of a 429 response. The zero time is returned when the headers are
// missing or unparsable.
func rateLimitResetTime(resp *http.Response) time.Time {
	if v := resp.Header.Get("RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(unix, 0)
		}
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}

	return time.Time{}
}

func httpStatus(err error) (int, bool) {
	var respErr *gitlab.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode, true
	}

	return 0, false
}
