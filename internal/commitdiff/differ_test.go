package commitdiff

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/forge/mocks"
	"github.com/relmatic/mergeflow/internal/retry"
)

func newTestDiffer(t *testing.T) (*Differ, *mocks.MockClient) {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctrl := gomock.NewController(t)
	clt := mocks.NewMockClient(ctrl)

	retryer := retry.NewRetryer()
	t.Cleanup(retryer.Stop)

	return New(clt, retryer), clt
}

func TestReflexiveDiffIsEmptyWithoutAPICall(t *testing.T) {
	differ, _ := newTestDiffer(t)

	commits, err := differ.Diff(context.Background(), "ss/library", "ss-dev", "ss-dev")
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestDiffReturnsOrderedCommits(t *testing.T) {
	differ, clt := newTestDiffer(t)

	want := []*forge.Commit{
		{SHA: "aaa111", Title: "add parser"},
		{SHA: "bbb222", Title: "fix parser"},
		{SHA: "ccc333", Title: "document parser"},
	}

	clt.EXPECT().BranchExists(gomock.Any(), "ss/library", "S").Return(true, nil)
	clt.EXPECT().BranchExists(gomock.Any(), "ss/library", "ss-dev").Return(true, nil)
	clt.EXPECT().CompareBranches(gomock.Any(), "ss/library", "S", "ss-dev").Return(want, nil)

	commits, err := differ.Diff(context.Background(), "ss/library", "S", "ss-dev")
	require.NoError(t, err)
	assert.Equal(t, want, commits)
}

func TestDiffNamesTheMissingBranch(t *testing.T) {
	differ, clt := newTestDiffer(t)

	clt.EXPECT().BranchExists(gomock.Any(), "ss/library", "S").Return(true, nil)
	clt.EXPECT().BranchExists(gomock.Any(), "ss/library", "sit9").Return(false, nil)

	_, err := differ.Diff(context.Background(), "ss/library", "S", "sit9")
	require.ErrorIs(t, err, forge.ErrBranchNotFound)
	assert.Contains(t, err.Error(), "sit9")
}

func TestDiffSurfacesPermanentErrors(t *testing.T) {
	differ, clt := newTestDiffer(t)

	apiErr := errors.New("401 unauthorized")

	clt.EXPECT().BranchExists(gomock.Any(), "ss/library", "S").Return(false, apiErr)

	_, err := differ.Diff(context.Background(), "ss/library", "S", "ss-dev")
	require.ErrorIs(t, err, apiErr)
}
