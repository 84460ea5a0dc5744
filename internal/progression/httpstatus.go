package progression

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/maputils"
)

type httpRespWriter struct {
	http.ResponseWriter
	logger *zap.Logger
}

func newHTTPRespWriter(logger *zap.Logger, resp http.ResponseWriter) *httpRespWriter {
	return &httpRespWriter{
		ResponseWriter: resp,
		logger:         logger,
	}
}

// WriteStr writes a string to the http response writer.
// If an error happens, it is logged with info priority and false is returned.
// If it succeeded true is returned.
func (rw *httpRespWriter) WriteStr(str string) (wasSuccessful bool) {
	_, err := rw.ResponseWriter.Write([]byte(str))
	if err != nil {
		rw.logger.Info("sending http response failed", zap.Error(err))
		return false
	}

	return true
}

// HTTPHandlerStatus writes the progression table of the current run as plain
// text, one line per repository plus the merge requests recorded for it.
func (e *Engine) HTTPHandlerStatus(respWr http.ResponseWriter, _ *http.Request) {
	resp := newHTTPRespWriter(e.logger, respWr)

	resp.Header().Add("Content-Type", "text/plain")

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		resp.WriteStr("no run started\n")
		return
	}

	if !resp.WriteStr(fmt.Sprintf("run: %s\nmode: %s\n\n", e.state.RunID, e.state.Mode)) {
		return
	}

	for _, name := range maputils.SortedKeys(e.state.Repositories) {
		repoState := e.state.Repositories[name]

		line := fmt.Sprintf("%s\tedge: %d\tstatus: %s", name, repoState.EdgeIndex, repoState.Status)
		if repoState.Reason != "" {
			line += "\treason: " + repoState.Reason
		}

		if !resp.WriteStr(line + "\n") {
			return
		}

		for _, edgeName := range maputils.SortedKeys(repoState.MergeRequests) {
			ref := repoState.MergeRequests[edgeName]

			mrLine := fmt.Sprintf("\t%s\t!%d\t%s", edgeName, ref.IID, ref.State)
			if ref.Additional {
				mrLine += "\t(additional)"
			}
			if ref.WebURL != "" {
				mrLine += "\t" + ref.WebURL
			}

			if !resp.WriteStr(mrLine + "\n") {
				return
			}
		}
	}
}
