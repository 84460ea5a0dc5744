package progression

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relmatic/mergeflow/internal/statestore"
)

func TestHTTPHandlerStatusWithoutRun(t *testing.T) {
	te := newTestEngine(t, testOptions(), "")

	rec := httptest.NewRecorder()
	te.engine.HTTPHandlerStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, "no run started\n", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestHTTPHandlerStatusRendersState(t *testing.T) {
	te := newTestEngine(t, testOptions(), "")

	te.engine.initState()
	te.engine.updateRepo(libRepo, func(repoState *statestore.RepoState) {
		repoState.Status = string(StatusInProgress)
		repoState.EdgeIndex = 1
		repoState.MergeRequests["S -> ss-dev"] = statestore.MergeRequestRef{
			IID:    4,
			WebURL: "https://example.com/mr/4",
			State:  "merged",
		}
	})

	rec := httptest.NewRecorder()
	te.engine.HTTPHandlerStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "run: test-run")
	assert.Contains(t, body, "mode: full")
	assert.Contains(t, body, libRepo+"\tedge: 1\tstatus: in_progress")
	assert.Contains(t, body, "!4")
	assert.Contains(t, body, "https://example.com/mr/4")

	// repositories are listed sorted by name
	assert.Less(t, strings.Index(body, svcRepo), strings.Index(body, libRepo))
}
