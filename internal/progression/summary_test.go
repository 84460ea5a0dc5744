package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleSummary() *Summary {
	return &Summary{
		RunID:    "run-1",
		Mode:     ModeFull,
		Started:  time.Now().Add(-time.Minute),
		Finished: time.Now(),
		Results: []RepoResult{
			{Name: "ss/library", Status: StatusCompleted},
			{
				Name:        "ss/parsers",
				Status:      StatusPending,
				Reason:      "all auto-merge methods exhausted",
				Link:        "https://example.com/mr/1",
				ManualMerge: true,
			},
			{
				Name:   "ss/app",
				Status: StatusBlockedWaitingDependency,
				Reason: "waiting for libraries: ss/parsers",
			},
			{
				Name:   "ss/api",
				Status: StatusFailed,
				Reason: "pipeline on S failed",
				Link:   "https://example.com/mr/2",
			},
			{
				Name:   "ss/worker",
				Status: StatusPending,
				Reason: "no commits pending on S -> ss-dev",
			},
		},
	}
}

func TestSummaryBuckets(t *testing.T) {
	summary := exampleSummary()

	assert.Len(t, summary.Completed(), 1)
	assert.Len(t, summary.ManualMerges(), 1)
	assert.Len(t, summary.Blocked(), 1)
	assert.Len(t, summary.Failed(), 1)

	require.Len(t, summary.Pending(), 1)
	assert.Equal(t, "ss/worker", summary.Pending()[0].Name,
		"a repository waiting on a manual merge is not pending")

	assert.False(t, summary.FullySuccessful())
}

func TestSummaryExitCode(t *testing.T) {
	assert.Equal(t, 1, exampleSummary().ExitCode())

	summary := &Summary{
		Results: []RepoResult{
			{Name: "a", Status: StatusCompleted},
			{Name: "b", Status: StatusPending, ManualMerge: true},
			{Name: "c", Status: StatusBlockedWaitingDependency},
		},
	}
	assert.Equal(t, 0, summary.ExitCode(),
		"blocked repositories and manual merges must not fail the run")
}

func TestSummaryString(t *testing.T) {
	rendered := exampleSummary().String()

	assert.Contains(t, rendered, "run run-1 (full) finished")
	assert.Contains(t, rendered, "completed (1):")
	assert.Contains(t, rendered, "manual merge required (1):")
	assert.Contains(t, rendered, "blocked waiting on dependencies (1):")
	assert.Contains(t, rendered, "pending (1):")
	assert.Contains(t, rendered, "failed (1):")
	assert.Contains(t, rendered, "\tss/api: pipeline on S failed")
	assert.Contains(t, rendered, "\t\thttps://example.com/mr/2")
}
