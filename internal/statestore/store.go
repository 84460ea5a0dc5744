// Package statestore persists run progress between invocations as a JSON
// file.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/logfields"
)

const loggerName = "statestore"

// ErrNoState is returned by Load when no state file exists.
var ErrNoState = errors.New("no persisted state")

// MergeRequestRef identifies a merge request driven for an edge.
type MergeRequestRef struct {
	IID        int    `json:"iid"`
	WebURL     string `json:"web_url"`
	State      string `json:"state"`
	Additional bool   `json:"additional,omitempty"`
}

// RepoState is the persisted progression record of one repository.
// Merge requests and retry counts are keyed by the edge name
// ("<from> -> <to>"). FailedEdge names the edge that stopped progression,
// it is set for failures and for merge requests requiring a manual merge.
type RepoState struct {
	Strategy      string                     `json:"strategy"`
	EdgeIndex     int                        `json:"edge_index"`
	Status        string                     `json:"status"`
	Reason        string                     `json:"reason,omitempty"`
	FailedEdge    string                     `json:"failed_edge,omitempty"`
	ManualMerge   bool                       `json:"manual_merge,omitempty"`
	RetryCounts   map[string]uint            `json:"retry_counts,omitempty"`
	MergeRequests map[string]MergeRequestRef `json:"merge_requests,omitempty"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// RunState is the persisted state of one run.
type RunState struct {
	RunID        string                `json:"run_id"`
	Mode         string                `json:"mode"`
	StartedAt    time.Time             `json:"started_at"`
	Repositories map[string]*RepoState `json:"repositories"`
}

func NewRunState(runID, mode string) *RunState {
	return &RunState{
		RunID:        runID,
		Mode:         mode,
		StartedAt:    time.Now(),
		Repositories: map[string]*RepoState{},
	}
}

// Store reads and writes a RunState file. Writes are atomic, the state is
// written to a temporary file first and then renamed. The caller serializes
// access to the RunState itself.
type Store struct {
	path   string
	logger *zap.Logger
}

func New(path string) *Store {
	return &Store{
		path:   path,
		logger: zap.L().Named(loggerName),
	}
}

// Load returns the persisted state. When no state file exists, ErrNoState
// is returned.
func (s *Store) Load() (*RunState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}

		return nil, fmt.Errorf("reading state file %s: %w", s.path, err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", s.path, err)
	}

	if state.Repositories == nil {
		state.Repositories = map[string]*RepoState{}
	}

	s.logger.Info(
		"persisted state loaded",
		logfields.RunID(state.RunID),
		zap.String("state_file", s.path),
		zap.Int("repository_count", len(state.Repositories)),
		logfields.Event("state_loaded"),
	)

	return &state, nil
}

// Put persists the state atomically.
func (s *Store) Put(state *RunState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	_, err = tmpFile.Write(data)
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("writing temporary state file %s: %w", tmpFile.Name(), err)
	}

	if err := os.Rename(tmpFile.Name(), s.path); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("replacing state file %s: %w", s.path, err)
	}

	return nil
}

// Clear removes the state file. A missing file is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file %s: %w", s.path, err)
	}

	if err == nil {
		s.logger.Info(
			"persisted state cleared",
			zap.String("state_file", s.path),
			logfields.Event("state_cleared"),
		)
	}

	return nil
}
