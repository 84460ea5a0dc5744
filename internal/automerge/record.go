package automerge

import (
	"time"

	"github.com/relmatic/mergeflow/internal/strategy"
)

// RecordState describes how far a merge request progressed toward being
// merged.
type RecordState string

const (
	StateNone             RecordState = "none"
	StateOpen             RecordState = "open"
	StatePipelinePending  RecordState = "pipeline_pending"
	StatePipelinePassed   RecordState = "pipeline_passed"
	StateAutoMergeEnabled RecordState = "auto_merge_enabled"
	StateMerged           RecordState = "merged"
	StateConflict         RecordState = "conflict"
	StateFailed           RecordState = "failed"
)

// Terminal returns true when the state can not change anymore.
func (s RecordState) Terminal() bool {
	return s == StateMerged || s == StateConflict || s == StateFailed
}

// PollResult classifies a single merge request status read.
// PollBlocked covers a merge request that is no longer open but was not
// merged, and one whose pipeline passed without the merge progressing; the
// record state carries the distinction.
type PollResult string

const (
	PollPipelineRunning PollResult = "pipeline_running"
	PollPipelineFailed  PollResult = "pipeline_failed"
	PollMergeConflict   PollResult = "merge_conflict"
	PollMerged          PollResult = "merged"
	PollBlocked         PollResult = "blocked"
)

// Record tracks the merge request driven for one edge.
type Record struct {
	Repository string
	Edge       *strategy.Edge
	IID        int
	WebURL     string
	State      RecordState
	RetryCount uint
	Additional bool
	Reused     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *Record) touch() {
	r.UpdatedAt = time.Now()
}
