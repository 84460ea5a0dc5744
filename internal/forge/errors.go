package forge

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrBranchNotFound is returned by branch comparisons when one of the
	// compared branches does not exist. It is a configuration error, not a
	// zero-commit result.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrUnsupported is returned by auto-merge operations that the forge
	// or the concrete endpoint does not support.
	ErrUnsupported = errors.New("operation not supported by forge")

	// ErrNotMergeable is returned by merge operations when the forge
	// refuses the merge in its current state (unmerged pipeline, conflict,
	// work in progress).
	ErrNotMergeable = errors.New("merge request is not in a mergeable state")
)
