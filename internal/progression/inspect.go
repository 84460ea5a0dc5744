package progression

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/forge"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/stringutils"
)

// maxInspectCommits caps how many commits one edge lists in the report.
const maxInspectCommits = 5

// EdgeInspection is the pending work of one edge. Problem is set when the
// edge could not be diffed, the commits are unknown then.
type EdgeInspection struct {
	Edge    string
	Problem string
	Commits []*forge.Commit

	// missingBranch marks a diff that failed because a branch does not
	// exist. Scan branches with it are left out of the report, like the
	// additional commit scan skips them.
	missingBranch bool
}

// RepositoryInspection is the pending work of one repository.
type RepositoryInspection struct {
	Name     string
	Category string
	Strategy string
	Flow     []string

	// Edges lists every planned edge of the flow, also the empty ones.
	Edges []EdgeInspection
	// Additional lists the scan branches that still carry commits against
	// the terminal branch.
	Additional []EdgeInspection
}

// InspectReport is the result of a read-only inspection run.
type InspectReport struct {
	Mode         Mode
	Repositories []RepositoryInspection
}

// Inspect diffs every planned edge and every scan branch of the repositories
// the mode selects, without creating merge requests or writing state. Diff
// failures are reported per edge, they never abort the inspection.
func (e *Engine) Inspect(ctx context.Context) *InspectReport {
	e.logger.Info(
		"inspection started",
		logfields.Event("inspection_started"),
		zap.String("mode", string(e.mode)),
	)

	report := InspectReport{Mode: e.mode}

	for _, repo := range e.scopeRepositories() {
		inspection := RepositoryInspection{
			Name:     repo.Name,
			Category: string(repo.Category),
			Strategy: repo.Strategy.Name,
			Flow:     repo.Strategy.Flow,
		}

		for _, edge := range repo.Strategy.Edges() {
			inspection.Edges = append(inspection.Edges, e.inspectEdge(ctx, repo.Name, edge.String(), edge.From, edge.To))
		}

		terminal := repo.Strategy.Terminal()

		for _, branch := range repo.Strategy.ScanBranches() {
			edge := repo.Strategy.AdditionalEdge(branch)

			result := e.inspectEdge(ctx, repo.Name, edge.String(), branch, terminal)
			if result.missingBranch || (result.Problem == "" && len(result.Commits) == 0) {
				continue
			}

			inspection.Additional = append(inspection.Additional, result)
		}

		report.Repositories = append(report.Repositories, inspection)
	}

	return &report
}

func (e *Engine) inspectEdge(ctx context.Context, repo, edgeName, from, to string) EdgeInspection {
	result := EdgeInspection{Edge: edgeName}

	commits, err := e.differ.Diff(ctx, repo, from, to)
	if err != nil {
		if errors.Is(err, forge.ErrBranchNotFound) {
			result.Problem = fmt.Sprintf("branch missing: %s", err)
			result.missingBranch = true
		} else {
			result.Problem = fmt.Sprintf("comparing branches failed: %s", err)
		}

		return result
	}

	result.Commits = commits

	return result
}

// String renders the report for terminal output.
func (r *InspectReport) String() string {
	var result strings.Builder

	fmt.Fprintf(&result, "inspection (%s):\n", r.Mode)

	for _, repo := range r.Repositories {
		fmt.Fprintf(
			&result,
			"%s (%s, strategy: %s, flow: %s):\n",
			repo.Name, repo.Category, repo.Strategy, strings.Join(repo.Flow, " -> "),
		)

		for _, edge := range repo.Edges {
			writeEdgeInspection(&result, edge)
		}

		if len(repo.Additional) != 0 {
			result.WriteString("\tadditional:\n")

			for _, edge := range repo.Additional {
				writeEdgeInspection(&result, edge)
			}
		}
	}

	return result.String()
}

func writeEdgeInspection(result *strings.Builder, edge EdgeInspection) {
	line := edge.Edge

	switch {
	case edge.Problem != "":
		line += ": " + edge.Problem
	case len(edge.Commits) == 0:
		line += ": no commits pending"
	default:
		line += fmt.Sprintf(": %d commits", len(edge.Commits))
	}

	result.WriteString(stringutils.IndentString(line, "\t"))
	result.WriteString("\n")

	for i, commit := range edge.Commits {
		if i == maxInspectCommits {
			result.WriteString(stringutils.IndentString(fmt.Sprintf("+%d more", len(edge.Commits)-maxInspectCommits), "\t\t"))
			result.WriteString("\n")

			break
		}

		result.WriteString(stringutils.IndentString(stringutils.ShortSHA(commit.SHA)+" "+commit.Title, "\t\t"))
		result.WriteString("\n")
	}
}
