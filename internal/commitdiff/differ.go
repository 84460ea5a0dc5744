// Package commitdiff reports the commits pending propagation between two
// branches of a repository.
package commitdiff

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/retry"
)

const loggerName = "commitdiff"

// Differ computes the ordered set of commits present on a source branch but
// absent from a target branch. Transient API failures are retried before
// they surface.
type Differ struct {
	clt     forge.Client
	retryer *retry.Retryer
	logger  *zap.Logger
}

func New(clt forge.Client, retryer *retry.Retryer) *Differ {
	return &Differ{
		clt:     clt,
		retryer: retryer,
		logger:  zap.L().Named(loggerName),
	}
}

// Diff returns the commits reachable from source but not contained in
// target, oldest first.
// A branch diffed against itself is resolved to an empty diff without
// consulting the API. When either branch does not exist, an error wrapping
// forge.ErrBranchNotFound that names the missing branch is returned.
func (d *Differ) Diff(ctx context.Context, repo, source, target string) ([]*forge.Commit, error) {
	if source == target {
		return nil, nil
	}

	for _, branch := range []string{source, target} {
		branch := branch
		var exists bool

		err := d.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			exists, err = d.clt.BranchExists(ctx, repo, branch)
			return err
		}, []zap.Field{
			logfields.Repository(repo),
			logfields.Branch(branch),
			logfields.Event("branch_existence_queried"),
		})
		if err != nil {
			return nil, fmt.Errorf("checking existence of branch %s: %w", branch, err)
		}

		if !exists {
			return nil, fmt.Errorf("branch %s: %w", branch, forge.ErrBranchNotFound)
		}
	}

	var commits []*forge.Commit

	err := d.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		commits, err = d.clt.CompareBranches(ctx, repo, source, target)
		return err
	}, []zap.Field{
		logfields.Repository(repo),
		logfields.SourceBranch(source),
		logfields.TargetBranch(target),
		logfields.Event("branches_compared"),
	})
	if err != nil {
		return nil, fmt.Errorf("comparing %s with %s: %w", source, target, err)
	}

	d.logger.Debug(
		"branches compared",
		logfields.Repository(repo),
		logfields.SourceBranch(source),
		logfields.TargetBranch(target),
		zap.Int("commit_count", len(commits)),
		logfields.Event("branches_compared"),
	)

	return commits, nil
}
