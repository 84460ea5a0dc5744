package progression

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectReportsPendingWork(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeLibOnly

	te := newTestEngine(t, opts, "")
	allBranchesExist(te.clt)

	te.clt.EXPECT().CompareBranches(gomock.Any(), libRepo, "S", "ss-dev").Return(testCommits(7), nil)
	te.clt.EXPECT().CompareBranches(gomock.Any(), libRepo, "ss-dev", "sit2").Return(nil, nil)
	te.clt.EXPECT().CompareBranches(gomock.Any(), libRepo, "S", "sit2").Return(testCommits(1), nil)
	te.clt.EXPECT().CompareBranches(gomock.Any(), libRepo, "ss-dev", "sit2").Return(nil, nil)

	report := te.engine.Inspect(context.Background())

	require.Len(t, report.Repositories, 1)

	repo := report.Repositories[0]
	assert.Equal(t, libRepo, repo.Name)
	assert.Equal(t, "library", repo.Category)
	assert.Equal(t, []string{"S", "ss-dev", "sit2"}, repo.Flow)

	require.Len(t, repo.Edges, 2)
	assert.Equal(t, "S -> ss-dev", repo.Edges[0].Edge)
	assert.Len(t, repo.Edges[0].Commits, 7)
	assert.Empty(t, repo.Edges[1].Commits)

	require.Len(t, repo.Additional, 1)
	assert.Equal(t, "S -> sit2", repo.Additional[0].Edge)
	assert.Len(t, repo.Additional[0].Commits, 1)

	rendered := report.String()
	assert.Contains(t, rendered, "inspection (lib-only):")
	assert.Contains(t, rendered, "7 commits")
	assert.Contains(t, rendered, "no commits pending")
	assert.Contains(t, rendered, "additional:")
	assert.Contains(t, rendered, "+2 more")
}

func TestInspectReportsDiffProblems(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeLibOnly

	te := newTestEngine(t, opts, "")

	// the flow's source branch does not exist, diffing the second edge
	// fails hard
	te.clt.EXPECT().BranchExists(gomock.Any(), libRepo, "S").Return(false, nil).Times(2)
	te.clt.EXPECT().BranchExists(gomock.Any(), libRepo, "ss-dev").Return(true, nil).AnyTimes()
	te.clt.EXPECT().BranchExists(gomock.Any(), libRepo, "sit2").Return(true, nil).AnyTimes()
	te.clt.EXPECT().
		CompareBranches(gomock.Any(), libRepo, "ss-dev", "sit2").
		Return(nil, errors.New("api down")).
		Times(2)

	report := te.engine.Inspect(context.Background())

	require.Len(t, report.Repositories, 1)
	repo := report.Repositories[0]

	require.Len(t, repo.Edges, 2)
	assert.Contains(t, repo.Edges[0].Problem, "branch missing")
	assert.Contains(t, repo.Edges[1].Problem, "comparing branches failed")

	// the missing scan branch is skipped, the failing one is reported
	require.Len(t, repo.Additional, 1)
	assert.Equal(t, "ss-dev -> sit2", repo.Additional[0].Edge)
	assert.Contains(t, repo.Additional[0].Problem, "comparing branches failed")

	rendered := report.String()
	assert.Contains(t, rendered, "branch missing")
	assert.Contains(t, rendered, "comparing branches failed")
}

func TestInspectHonorsMode(t *testing.T) {
	opts := testOptions()
	opts.Mode = ModeServiceOnly

	te := newTestEngine(t, opts, "")
	allBranchesExist(te.clt)

	te.clt.EXPECT().CompareBranches(gomock.Any(), svcRepo, "S", "ss-dev").Return(nil, nil)
	te.clt.EXPECT().CompareBranches(gomock.Any(), svcRepo, "ss-dev", "sit2").Return(nil, nil).Times(2)
	te.clt.EXPECT().CompareBranches(gomock.Any(), svcRepo, "S", "sit2").Return(nil, nil)

	report := te.engine.Inspect(context.Background())

	require.Len(t, report.Repositories, 1)
	assert.Equal(t, svcRepo, report.Repositories[0].Name)
}
