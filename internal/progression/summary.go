package progression

import (
	"fmt"
	"strings"
	"time"

	"github.com/relmatic/mergeflow/internal/stringutils"
)

// RepoResult is the final state of one repository in the run summary.
type RepoResult struct {
	Name        string
	Status      Status
	Reason      string
	Link        string
	ManualMerge bool
}

// Summary is the final report of a run. Results are ordered like the
// repositories in the configuration.
type Summary struct {
	RunID    string
	Mode     Mode
	Started  time.Time
	Finished time.Time
	Results  []RepoResult
}

func (s *Summary) filter(match func(RepoResult) bool) []RepoResult {
	var results []RepoResult

	for _, result := range s.Results {
		if match(result) {
			results = append(results, result)
		}
	}

	return results
}

// Completed returns the repositories that finished their flow.
func (s *Summary) Completed() []RepoResult {
	return s.filter(func(r RepoResult) bool { return r.Status == StatusCompleted })
}

// Failed returns the repositories with an edge that could not be merged.
func (s *Summary) Failed() []RepoResult {
	return s.filter(func(r RepoResult) bool { return r.Status == StatusFailed })
}

// Blocked returns the service repositories that waited in vain for the
// library repositories.
func (s *Summary) Blocked() []RepoResult {
	return s.filter(func(r RepoResult) bool { return r.Status == StatusBlockedWaitingDependency })
}

// ManualMerges returns the repositories with a merge request that must be
// merged manually.
func (s *Summary) ManualMerges() []RepoResult {
	return s.filter(func(r RepoResult) bool { return r.ManualMerge })
}

// Pending returns the repositories that did not finish their flow and are
// neither failed, blocked nor waiting on a manual merge.
func (s *Summary) Pending() []RepoResult {
	return s.filter(func(r RepoResult) bool {
		return (r.Status == StatusPending || r.Status == StatusInProgress) && !r.ManualMerge
	})
}

// FullySuccessful returns true when every repository completed its flow.
func (s *Summary) FullySuccessful() bool {
	return len(s.Completed()) == len(s.Results)
}

// ExitCode returns 1 when at least one repository failed, 0 otherwise.
// Repositories that are blocked or wait on a manual merge do not fail the
// run.
func (s *Summary) ExitCode() int {
	if len(s.Failed()) != 0 {
		return 1
	}

	return 0
}

// String renders the summary for terminal output.
func (s *Summary) String() string {
	var result strings.Builder

	fmt.Fprintf(
		&result,
		"run %s (%s) finished in %s\n",
		s.RunID, s.Mode, s.Finished.Sub(s.Started).Round(time.Second),
	)

	writeBucket(&result, "completed", s.Completed())
	writeBucket(&result, "manual merge required", s.ManualMerges())
	writeBucket(&result, "blocked waiting on dependencies", s.Blocked())
	writeBucket(&result, "pending", s.Pending())
	writeBucket(&result, "failed", s.Failed())

	return result.String()
}

func writeBucket(result *strings.Builder, title string, repos []RepoResult) {
	if len(repos) == 0 {
		return
	}

	fmt.Fprintf(result, "%s (%d):\n", title, len(repos))

	for _, repo := range repos {
		line := repo.Name
		if repo.Reason != "" {
			line += ": " + repo.Reason
		}

		result.WriteString(stringutils.IndentString(line, "\t"))
		result.WriteString("\n")

		if repo.Link != "" {
			result.WriteString(stringutils.IndentString(repo.Link, "\t\t"))
			result.WriteString("\n")
		}
	}
}
