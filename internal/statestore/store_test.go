package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	return New(filepath.Join(t.TempDir(), "state.json"))
}

func TestLoadWithoutStateFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load()
	require.ErrorIs(t, err, ErrNoState)
}

func TestPutAndLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)

	state := NewRunState("run-1", "full")
	state.Repositories["ss/library"] = &RepoState{
		Strategy:  "default",
		EdgeIndex: 1,
		Status:    "in_progress",
		RetryCounts: map[string]uint{
			"S -> ss-dev": 2,
		},
		MergeRequests: map[string]MergeRequestRef{
			"S -> ss-dev": {
				IID:    7,
				WebURL: "https://gitlab.example.com/ss/library/-/merge_requests/7",
				State:  "merged",
			},
		},
	}

	require.NoError(t, store.Put(state))

	loaded, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "full", loaded.Mode)

	repo := loaded.Repositories["ss/library"]
	require.NotNil(t, repo)
	assert.Equal(t, 1, repo.EdgeIndex)
	assert.Equal(t, "in_progress", repo.Status)
	assert.Equal(t, uint(2), repo.RetryCounts["S -> ss-dev"])
	assert.Equal(t, 7, repo.MergeRequests["S -> ss-dev"].IID)
}

func TestPutReplacesStateAtomically(t *testing.T) {
	store := newTestStore(t)

	first := NewRunState("run-1", "full")
	require.NoError(t, store.Put(first))

	second := NewRunState("run-2", "lib-only")
	require.NoError(t, store.Put(second))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "run-2", loaded.RunID)

	// no temporary files must remain
	entries, err := os.ReadDir(filepath.Dir(store.path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestClear(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(NewRunState("run-1", "full")))
	require.NoError(t, store.Clear())

	_, err := store.Load()
	require.ErrorIs(t, err, ErrNoState)

	// clearing again is not an error
	require.NoError(t, store.Clear())
}

func TestLoadRejectsCorruptState(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, os.WriteFile(store.path, []byte("{invalid"), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoState)
}
