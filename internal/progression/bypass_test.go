package progression

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/statestore"
)

func TestParseMergePairs(t *testing.T) {
	pairs, err := ParseMergePairs("ss/library:3, ss/app:7")
	require.NoError(t, err)

	require.Len(t, pairs, 2)
	assert.Equal(t, MergePair{Repository: "ss/library", IID: 3}, pairs[0])
	assert.Equal(t, MergePair{Repository: "ss/app", IID: 7}, pairs[1])
	assert.Equal(t, "ss/library:3", pairs[0].String())
}

func TestParseMergePairsRejectsMalformedInput(t *testing.T) {
	for _, in := range []string{
		"",
		"ss/library",
		"ss/library:",
		":3",
		"ss/library:abc",
		"ss/library:0",
		"ss/library:-1",
	} {
		_, err := ParseMergePairs(in)
		assert.Error(t, err, "input: %q", in)
	}
}

func TestDirectMergeBypassAdvancesPlannedEdge(t *testing.T) {
	te := newTestEngine(t, testOptions(), "")

	gomock.InOrder(
		te.clt.EXPECT().
			GetMergeRequest(gomock.Any(), libRepo, 3).
			Return(mr(3, "S", "ss-dev", forge.MergeRequestStateOpened), nil),
		te.clt.EXPECT().
			Merge(gomock.Any(), libRepo, 3).
			Return(nil),
		te.clt.EXPECT().
			GetMergeRequest(gomock.Any(), libRepo, 3).
			Return(mr(3, "S", "ss-dev", forge.MergeRequestStateMerged), nil),
	)

	summary := te.engine.DirectMergeBypass(
		context.Background(),
		[]MergePair{{Repository: libRepo, IID: 3}},
	)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, libRepo, summary.Results[0].Name)
	assert.Equal(t, StatusPending, summary.Results[0].Status)

	state, err := statestore.New(te.stateFile).Load()
	require.NoError(t, err)

	repoState := state.Repositories[libRepo]
	require.NotNil(t, repoState)
	assert.Equal(t, 1, repoState.EdgeIndex)

	ref, exist := repoState.MergeRequests["S -> ss-dev"]
	require.True(t, exist)
	assert.Equal(t, 3, ref.IID)
	assert.False(t, ref.Additional)

	event := te.notifier.find(phaseBypass, "merged")
	require.NotNil(t, event)
	assert.Equal(t, "S -> ss-dev", event.Edge)
	assert.NotEmpty(t, event.Links)
}

func TestDirectMergeBypassCompletesRepositoryOnFinalEdge(t *testing.T) {
	opts := testOptions()
	opts.Resume = true

	te := newTestEngine(t, opts, "")

	state := statestore.NewRunState("seeded-run", string(ModeFull))
	state.Repositories[libRepo] = &statestore.RepoState{
		Strategy:  "default",
		EdgeIndex: 1,
		Status:    string(StatusPending),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, statestore.New(te.stateFile).Put(state))

	gomock.InOrder(
		te.clt.EXPECT().
			GetMergeRequest(gomock.Any(), libRepo, 7).
			Return(mr(7, "ss-dev", "sit2", forge.MergeRequestStateOpened), nil),
		te.clt.EXPECT().
			Merge(gomock.Any(), libRepo, 7).
			Return(nil),
		te.clt.EXPECT().
			GetMergeRequest(gomock.Any(), libRepo, 7).
			Return(mr(7, "ss-dev", "sit2", forge.MergeRequestStateMerged), nil),
	)

	summary := te.engine.DirectMergeBypass(
		context.Background(),
		[]MergePair{{Repository: libRepo, IID: 7}},
	)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, StatusCompleted, summary.Results[0].Status)

	persisted, err := statestore.New(te.stateFile).Load()
	require.NoError(t, err)
	assert.Equal(t, 2, persisted.Repositories[libRepo].EdgeIndex)
}

func TestDirectMergeBypassRecordsAdditionalMerge(t *testing.T) {
	te := newTestEngine(t, testOptions(), "")

	// the merged merge request does not match the current planned edge
	gomock.InOrder(
		te.clt.EXPECT().
			GetMergeRequest(gomock.Any(), libRepo, 9).
			Return(mr(9, "hotfix", "sit2", forge.MergeRequestStateOpened), nil),
		te.clt.EXPECT().
			Merge(gomock.Any(), libRepo, 9).
			Return(nil),
		te.clt.EXPECT().
			GetMergeRequest(gomock.Any(), libRepo, 9).
			Return(mr(9, "hotfix", "sit2", forge.MergeRequestStateMerged), nil),
	)

	summary := te.engine.DirectMergeBypass(
		context.Background(),
		[]MergePair{{Repository: libRepo, IID: 9}},
	)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, StatusPending, summary.Results[0].Status)

	state, err := statestore.New(te.stateFile).Load()
	require.NoError(t, err)

	repoState := state.Repositories[libRepo]
	assert.Equal(t, 0, repoState.EdgeIndex, "the planned edge index must not move")

	ref, exist := repoState.MergeRequests["hotfix -> sit2"]
	require.True(t, exist)
	assert.True(t, ref.Additional)
}

func TestDirectMergeBypassSkipsUnknownRepository(t *testing.T) {
	te := newTestEngine(t, testOptions(), "")

	summary := te.engine.DirectMergeBypass(
		context.Background(),
		[]MergePair{{Repository: "unknown/repo", IID: 1}},
	)

	assert.Empty(t, summary.Results)
}

func TestDirectMergeBypassReportsMergeFailure(t *testing.T) {
	te := newTestEngine(t, testOptions(), "")

	te.clt.EXPECT().
		GetMergeRequest(gomock.Any(), libRepo, 3).
		Return(nil, forge.ErrNotFound)

	summary := te.engine.DirectMergeBypass(
		context.Background(),
		[]MergePair{{Repository: libRepo, IID: 3}},
	)

	assert.Equal(t, 1, summary.ExitCode())
	require.Len(t, summary.Failed(), 1)
	assert.Contains(t, summary.Failed()[0].Reason, "direct merge of !3 failed")

	event := te.notifier.find(phaseBypass, string(StatusFailed))
	require.NotNil(t, event)
	assert.Equal(t, libRepo, event.Repository)
}
