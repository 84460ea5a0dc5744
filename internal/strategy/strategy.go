package strategy

import (
	"fmt"
)

// Edge is one source to target branch transition within a flow.
// Additional is set on synthetic edges created for commits discovered
// outside the planned flow.
type Edge struct {
	Strategy          string
	Index             int
	From              string
	To                string
	DeployEnvironment *Environment
	Additional        bool
}

func (e *Edge) String() string {
	return e.From + " -> " + e.To
}

// Strategy is a named ordered branch flow.
// The first flow entry is the source branch, the last one the terminal
// branch.
type Strategy struct {
	Name               string
	Flow               []string
	AdditionalBranches []string

	edges     []*Edge
	deployEnv map[string]*Environment
}

func (s *Strategy) Source() string {
	return s.Flow[0]
}

func (s *Strategy) Terminal() string {
	return s.Flow[len(s.Flow)-1]
}

// Edges returns the planned transitions of the flow, ordered.
func (s *Strategy) Edges() []*Edge {
	return s.edges
}

func (s *Strategy) EdgeAt(index int) (*Edge, error) {
	if index < 0 || index >= len(s.edges) {
		return nil, fmt.Errorf("strategy %s has no edge with index %d, edge count: %d", s.Name, index, len(s.edges))
	}

	return s.edges[index], nil
}

// Next returns the branch that follows current in the flow.
// The boolean is false when current is the terminal branch or does not
// participate in the flow.
func (s *Strategy) Next(current string) (string, bool) {
	for i, branch := range s.Flow[:len(s.Flow)-1] {
		if branch == current {
			return s.Flow[i+1], true
		}
	}

	return "", false
}

// ScanBranches returns the branches that are examined for additional
// commits after the planned flow completed: the non-terminal flow branches
// plus the configured additional branches, deduplicated, order preserved.
func (s *Strategy) ScanBranches() []string {
	candidates := make([]string, 0, len(s.Flow)-1+len(s.AdditionalBranches))
	candidates = append(candidates, s.Flow[:len(s.Flow)-1]...)
	candidates = append(candidates, s.AdditionalBranches...)

	terminal := s.Terminal()
	seen := make(map[string]struct{}, len(candidates))
	result := make([]string, 0, len(candidates))

	for _, branch := range candidates {
		if branch == terminal {
			continue
		}

		if _, exists := seen[branch]; exists {
			continue
		}

		seen[branch] = struct{}{}
		result = append(result, branch)
	}

	return result
}

// AdditionalEdge returns a synthetic edge propagating branch into the
// terminal branch.
func (s *Strategy) AdditionalEdge(branch string) *Edge {
	return &Edge{
		Strategy:          s.Name,
		Index:             len(s.edges),
		From:              branch,
		To:                s.Terminal(),
		DeployEnvironment: s.deployEnv[s.Terminal()],
		Additional:        true,
	}
}
