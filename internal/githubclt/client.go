// Package githubclt provides a github API client implementing forge.Client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/relmatic/mergeflow/internal/flowerr"
	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// New returns a new github API client.
func New(oauthAPIToken string) *Client {
	httpClient := newHTTPClient(oauthAPIToken)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client.
// All methods wrap errors of operations that can be retried in a
// flowerr.RetryableError. This can be e.g. the case when the API rate limit
// is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger

	userOnce sync.Once
	login    string
}

var _ forge.Client = (*Client)(nil)

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, found := strings.Cut(repo, "/")
	if !found || owner == "" || name == "" {
		return "", "", fmt.Errorf("repository %q is not in owner/name format", repo)
	}

	return owner, name, nil
}

func (clt *Client) BranchExists(ctx context.Context, repo, branch string) (bool, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return false, err
	}

	_, _, err = clt.restClt.Repositories.GetBranch(ctx, owner, name, branch, true)
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
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	cmp, _, err := clt.restClt.Repositories.CompareCommits(ctx, owner, name, target, source, &github.ListOptions{PerPage: 100})
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

func toCommit(c *github.RepositoryCommit) *forge.Commit {
	commit := forge.Commit{
		SHA:    c.GetSHA(),
		WebURL: c.GetHTMLURL(),
	}

	if inner := c.GetCommit(); inner != nil {
		commit.Message = inner.GetMessage()
		commit.Title, _, _ = strings.Cut(commit.Message, "\n")

		if author := inner.GetAuthor(); author != nil {
			commit.AuthorName = author.GetName()
			if author.Date != nil {
				commit.AuthoredAt = *author.Date
			}
		}
	}

	return &commit
}

func (clt *Client) FindMergeRequest(ctx context.Context, repo, source, target string) (*forge.MergeRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	prs, _, err := clt.restClt.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State:       "open",
		Head:        owner + ":" + source,
		Base:        target,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	if len(prs) == 0 {
		return nil, fmt.Errorf("open pull request %s -> %s: %w", source, target, forge.ErrNotFound)
	}

	return toMergeRequest(prs[0]), nil
}

func (clt *Client) CreateMergeRequest(ctx context.Context, repo string, opts forge.CreateMROptions) (*forge.MergeRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: &opts.Title,
		Head:  &opts.SourceBranch,
		Base:  &opts.TargetBranch,
		Body:  &opts.Description,
	})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) &&
			respErr.Response.StatusCode == http.StatusUnprocessableEntity &&
			strings.Contains(respErr.Error(), "already exists") {
			return nil, fmt.Errorf("pull request %s -> %s: %w", opts.SourceBranch, opts.TargetBranch, forge.ErrAlreadyExists)
		}

		return nil, clt.wrapRetryableErrors(err)
	}

	if login := clt.currentUserLogin(ctx); login != "" {
		if _, _, err := clt.restClt.Issues.AddAssignees(ctx, owner, name, pr.GetNumber(), []string{login}); err != nil {
			clt.logger.Warn(
				"assigning pull request failed",
				logfields.Repository(repo),
				logfields.MergeRequest(pr.GetNumber()),
				logfields.Event("github_pull_request_assign_failed"),
				zap.Error(err),
			)
		}
	}

	clt.logger.Info(
		"pull request created",
		logfields.Repository(repo),
		logfields.SourceBranch(opts.SourceBranch),
		logfields.TargetBranch(opts.TargetBranch),
		logfields.MergeRequest(pr.GetNumber()),
		logfields.Event("github_pull_request_created"),
	)

	return toMergeRequest(pr), nil
}

func (clt *Client) GetMergeRequest(ctx context.Context, repo string, iid int) (*forge.MergeRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, name, iid)
	if err != nil {
		if status, ok := httpStatus(err); ok && status == http.StatusNotFound {
			return nil, fmt.Errorf("pull request #%d: %w", iid, forge.ErrNotFound)
		}

		return nil, clt.wrapRetryableErrors(err)
	}

	return toMergeRequest(pr), nil
}

func toMergeRequest(pr *github.PullRequest) *forge.MergeRequest {
	mr := forge.MergeRequest{
		IID:          pr.GetNumber(),
		WebURL:       pr.GetHTMLURL(),
		Title:        pr.GetTitle(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		HasConflicts: pr.GetMergeableState() == "dirty",
	}

	switch {
	case pr.GetMerged():
		mr.State = forge.MergeRequestStateMerged
	case pr.GetState() == "closed":
		mr.State = forge.MergeRequestStateClosed
	default:
		mr.State = forge.MergeRequestStateOpened
	}

	return &mr
}

// EnableAutoMerge enables auto-merge via the graphql
// enablePullRequestAutoMerge mutation, the only route github offers for it.
func (clt *Client) EnableAutoMerge(ctx context.Context, repo string, iid int) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, name, iid)
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	var m struct {
		EnablePullRequestAutoMerge struct {
			PullRequest struct {
				Number githubv4.Int
			}
		} `graphql:"enablePullRequestAutoMerge(input: $input)"`
	}

	input := githubv4.EnablePullRequestAutoMergeInput{
		PullRequestID: githubv4.ID(pr.GetNodeID()),
	}

	if err := clt.graphQLClt.Mutate(ctx, &m, input, nil); err != nil {
		// github rejects the mutation when the pull request is already
		// mergeable ("clean status"), an immediate merge is the way
		// forward then
		if strings.Contains(err.Error(), "clean status") {
			return fmt.Errorf("%v: %w", err, forge.ErrNotMergeable)
		}

		return clt.wrapGraphQLRetryableErrors(err)
	}

	return nil
}

// EnableAutoMergeRaw is unsupported on github, there is no alternate
// auto-merge endpoint besides the graphql mutation.
func (clt *Client) EnableAutoMergeRaw(_ context.Context, _ string, _ int) error {
	return fmt.Errorf("github auto-merge raw endpoint: %w", forge.ErrUnsupported)
}

func (clt *Client) Merge(ctx context.Context, repo string, iid int) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	_, _, err = clt.restClt.PullRequests.Merge(ctx, owner, name, iid, "", &github.PullRequestOptions{})
	if err != nil {
		if status, ok := httpStatus(err); ok &&
			(status == http.StatusMethodNotAllowed || status == http.StatusConflict) {
			return fmt.Errorf("%v: %w", err, forge.ErrNotMergeable)
		}

		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// PipelineStatus reports the combined status-check rollup of the branch head
// commit.
func (clt *Client) PipelineStatus(ctx context.Context, repo, branch string) (forge.PipelineStatus, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	var q struct {
		Repository struct {
			Ref *struct {
				Target struct {
					Commit struct {
						StatusCheckRollup *struct {
							State githubv4.String
						}
					} `graphql:"... on Commit"`
				}
			} `graphql:"ref(qualifiedName: $ref)"`
		} `graphql:"repository(owner: $owner, name: $repoName)"`
	}

	vars := map[string]interface{}{
		"owner":    githubv4.String(owner),
		"repoName": githubv4.String(name),
		"ref":      githubv4.String(branch),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return "", clt.wrapGraphQLRetryableErrors(err)
	}

	if q.Repository.Ref == nil {
		return "", fmt.Errorf("branch %s: %w", branch, forge.ErrBranchNotFound)
	}

	rollup := q.Repository.Ref.Target.Commit.StatusCheckRollup
	if rollup == nil {
		return forge.PipelineStatusNone, nil
	}

	switch rollup.State {
	case "SUCCESS":
		return forge.PipelineStatusSuccess, nil
	case "FAILURE", "ERROR":
		return forge.PipelineStatusFailed, nil
	default:
		// PENDING, EXPECTED
		return forge.PipelineStatusRunning, nil
	}
}

func (clt *Client) DeploymentStatus(ctx context.Context, repo, environment string) (forge.DeploymentStatus, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	deployments, _, err := clt.restClt.Repositories.ListDeployments(ctx, owner, name, &github.DeploymentsListOptions{
		Environment: environment,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	if len(deployments) == 0 {
		return forge.DeploymentStatusNone, nil
	}

	statuses, _, err := clt.restClt.Repositories.ListDeploymentStatuses(ctx, owner, name, deployments[0].GetID(), &github.ListOptions{PerPage: 1})
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	if len(statuses) == 0 {
		return forge.DeploymentStatusCreated, nil
	}

	switch statuses[0].GetState() {
	case "success":
		return forge.DeploymentStatusSuccess, nil
	case "failure", "error":
		return forge.DeploymentStatusFailed, nil
	case "inactive":
		return forge.DeploymentStatusSuccess, nil
	default:
		// queued, pending, in_progress
		return forge.DeploymentStatusRunning, nil
	}
}

// currentUserLogin resolves the authenticated user once and caches the
// result. When resolution fails pull requests are created without an
// assignee.
func (clt *Client) currentUserLogin(ctx context.Context) string {
	clt.userOnce.Do(func() {
		user, _, err := clt.restClt.Users.Get(ctx, "")
		if err != nil {
			clt.logger.Warn(
				"resolving current user failed, pull requests will not be assigned",
				logfields.Event("github_current_user_unresolved"),
				zap.Error(err),
			)

			return
		}

		clt.login = user.GetLogin()
	})

	return clt.login
}

func httpStatus(err error) (int, bool) {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode, true
	}

	return 0, false
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return flowerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		if v.RetryAfter != nil {
			return flowerr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
		}

		return flowerr.NewRetryableAnytimeError(err)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return flowerr.NewRetryableAnytimeError(err)
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return flowerr.NewRetryableAnytimeError(err)
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return flowerr.NewRetryableAnytimeError(err)
	}

	return err
}
