package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/relmatic/mergeflow/internal/flowerr"
	"github.com/relmatic/mergeflow/internal/forge"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clt := New("01234567")

	baseURL, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	clt.restClt.BaseURL = baseURL
	clt.graphQLClt = githubv4.NewEnterpriseClient(srv.URL+"/graphql", srv.Client())

	return clt
}

func TestRepositoryMustBeOwnerSlashName(t *testing.T) {
	clt := newTestClient(t, http.NewServeMux())

	_, err := clt.BranchExists(context.Background(), "no-owner", "main")
	require.Error(t, err)
}

func TestBranchExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/ss/library/branches/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/repos/ss/library/branches/main" {
			fmt.Fprint(w, `{"name": "main"}`)
			return
		}

		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Branch not found"}`)
	})

	clt := newTestClient(t, mux)

	exists, err := clt.BranchExists(context.Background(), "ss/library", "main")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = clt.BranchExists(context.Background(), "ss/library", "sit9")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCompareBranchesMapsCommitsOldestFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/ss/library/compare/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/ss/library/compare/sit2...ss-dev", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"commits": [
				{
					"sha": "aaa111",
					"html_url": "https://github.example.com/ss/library/commit/aaa111",
					"commit": {
						"message": "add parser\n\nlong body",
						"author": {"name": "dev one", "date": "2026-08-20T10:00:00Z"}
					}
				},
				{
					"sha": "bbb222",
					"commit": {
						"message": "fix parser",
						"author": {"name": "dev two", "date": "2026-08-21T10:00:00Z"}
					}
				}
			]
		}`)
	})

	clt := newTestClient(t, mux)

	commits, err := clt.CompareBranches(context.Background(), "ss/library", "ss-dev", "sit2")
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "aaa111", commits[0].SHA)
	assert.Equal(t, "add parser", commits[0].Title)
	assert.Equal(t, "dev one", commits[0].AuthorName)
	assert.Equal(t, "https://github.example.com/ss/library/commit/aaa111", commits[0].WebURL)
	assert.Equal(t, "bbb222", commits[1].SHA)
}

func TestCompareBranchesMissingBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	clt := newTestClient(t, mux)

	_, err := clt.CompareBranches(context.Background(), "ss/library", "nosuch", "main")
	require.ErrorIs(t, err, forge.ErrBranchNotFound)
}

func TestCreateMergeRequestAlreadyExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/ss/library/pulls", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Validation Failed", "errors": [{"message": "A pull request already exists for ss:ss-dev."}]}`)
	})

	clt := newTestClient(t, mux)

	_, err := clt.CreateMergeRequest(context.Background(), "ss/library", forge.CreateMROptions{
		SourceBranch: "ss-dev",
		TargetBranch: "sit2",
		Title:        "ss-dev -> sit2",
	})
	require.ErrorIs(t, err, forge.ErrAlreadyExists)
}

func TestFindMergeRequestNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/ss/library/pulls", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	})

	clt := newTestClient(t, mux)

	_, err := clt.FindMergeRequest(context.Background(), "ss/library", "ss-dev", "sit2")
	require.ErrorIs(t, err, forge.ErrNotFound)
}

func TestGetMergeRequestMapsMergedState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/ss/library/pulls/3", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"number": 3,
			"state": "closed",
			"merged": true,
			"title": "ss-dev -> sit2",
			"mergeable_state": "unknown",
			"head": {"ref": "ss-dev"},
			"base": {"ref": "sit2"}
		}`)
	})

	clt := newTestClient(t, mux)

	mr, err := clt.GetMergeRequest(context.Background(), "ss/library", 3)
	require.NoError(t, err)
	assert.Equal(t, forge.MergeRequestStateMerged, mr.State)
	assert.Equal(t, "ss-dev", mr.SourceBranch)
	assert.False(t, mr.HasConflicts)
}

func TestRateLimitResponsesAreRetryableAtResetTime(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(reset))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
	})

	clt := newTestClient(t, mux)

	_, err := clt.GetMergeRequest(context.Background(), "ss/library", 1)
	require.Error(t, err)

	var retryErr *flowerr.RetryableError
	require.True(t, errors.As(err, &retryErr), "expected retryable error, got: %v", err)
	assert.True(t, retryErr.After.Equal(time.Unix(reset, 0)))
}

func TestServerErrorsAreRetryableAnytime(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message": "Bad Gateway"}`)
	})

	clt := newTestClient(t, mux)

	_, err := clt.GetMergeRequest(context.Background(), "ss/library", 1)
	require.Error(t, err)

	var retryErr *flowerr.RetryableError
	require.True(t, errors.As(err, &retryErr), "expected retryable error, got: %v", err)
	assert.True(t, retryErr.After.IsZero())
}

func TestMergeRefusalIsNotMergeable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/ss/library/pulls/7/merge", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"message": "Pull Request is not mergeable"}`)
	})

	clt := newTestClient(t, mux)

	err := clt.Merge(context.Background(), "ss/library", 7)
	require.ErrorIs(t, err, forge.ErrNotMergeable)
}

func TestEnableAutoMergeRawIsUnsupported(t *testing.T) {
	clt := newTestClient(t, http.NewServeMux())

	err := clt.EnableAutoMergeRaw(context.Background(), "ss/library", 1)
	require.ErrorIs(t, err, forge.ErrUnsupported)
}

func TestPipelineStatusMapsRollupState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"repository": {"ref": {"target": {"statusCheckRollup": {"state": "SUCCESS"}}}}}}`)
	})

	clt := newTestClient(t, mux)

	status, err := clt.PipelineStatus(context.Background(), "ss/library", "ss-dev")
	require.NoError(t, err)
	assert.Equal(t, forge.PipelineStatusSuccess, status)
}

func TestPipelineStatusWithoutChecks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"repository": {"ref": {"target": {"statusCheckRollup": null}}}}}`)
	})

	clt := newTestClient(t, mux)

	status, err := clt.PipelineStatus(context.Background(), "ss/library", "ss-dev")
	require.NoError(t, err)
	assert.Equal(t, forge.PipelineStatusNone, status)
}

func TestWrapGraphQLRetryableErrors(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// matches the error string format of shurcooL/graphql do()
	err := errors.New("non-200 OK status code: 503 Service Unavailable body: \"\"")
	wrappedErr := (&Client{logger: zap.L()}).wrapGraphQLRetryableErrors(err)

	var retryableErr *flowerr.RetryableError
	assert.ErrorAs(t, wrappedErr, &retryableErr)
}

func TestWrapGraphQLRetryableErrorsWithNonStatusErr(t *testing.T) {
	err := errors.New("error")
	wrappedErr := (&Client{logger: zap.L()}).wrapGraphQLRetryableErrors(err)
	assert.Equal(t, err, wrappedErr)
}
