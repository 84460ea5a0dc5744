// Package strategy resolves the configured repositories, branch flows and
// environments into a validated, read-only topology.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relmatic/mergeflow/internal/cfg"
	"github.com/relmatic/mergeflow/internal/maputils"
)

// Category classifies a repository for dependency gating.
type Category string

const (
	CategoryLibrary Category = "library"
	CategoryService Category = "service"
)

func parseCategory(in string) (Category, error) {
	switch Category(strings.ToLower(in)) {
	case CategoryLibrary:
		return CategoryLibrary, nil
	case CategoryService:
		return CategoryService, nil
	}

	return "", fmt.Errorf("unsupported category: %q, expected %q or %q", in, CategoryLibrary, CategoryService)
}

// Repository is a configured repository bound to its strategy.
type Repository struct {
	Name     string
	Category Category
	Strategy *Strategy
}

// Environment maps branches to a deployment environment.
type Environment struct {
	Name              string
	TriggeredBy       []string
	WaitForDeployment bool
}

// Registry is the static catalog of repositories, strategies and
// environments. It is immutable after construction.
type Registry struct {
	repositories []*Repository
	byName       map[string]*Repository
	strategies   map[string]*Strategy
}

// RegistryFromCfg validates the configuration and builds the registry.
func RegistryFromCfg(config *cfg.Config) (*Registry, error) {
	deployEnv, err := environmentsFromCfg(config.Environments)
	if err != nil {
		return nil, err
	}

	strategies, err := strategiesFromCfg(config.Strategies, deployEnv)
	if err != nil {
		return nil, err
	}

	if len(config.Repositories) == 0 {
		return nil, errors.New("configuration defines no repositories")
	}

	result := Registry{
		repositories: make([]*Repository, 0, len(config.Repositories)),
		byName:       make(map[string]*Repository, len(config.Repositories)),
		strategies:   strategies,
	}

	for _, cfgRepo := range config.Repositories {
		if cfgRepo.Name == "" {
			return nil, errors.New("repository: missing field: 'name'")
		}

		if _, exists := result.byName[cfgRepo.Name]; exists {
			return nil, fmt.Errorf("repository %s: defined multiple times", cfgRepo.Name)
		}

		category, err := parseCategory(cfgRepo.Category)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", cfgRepo.Name, err)
		}

		strat, exists := strategies[cfgRepo.Strategy]
		if !exists {
			return nil, fmt.Errorf(
				"repository %s: references undefined strategy %q, defined strategies: %s",
				cfgRepo.Name, cfgRepo.Strategy,
				strings.Join(maputils.SortedKeys(strategies), ", "),
			)
		}

		repo := Repository{
			Name:     cfgRepo.Name,
			Category: category,
			Strategy: strat,
		}

		result.repositories = append(result.repositories, &repo)
		result.byName[repo.Name] = &repo
	}

	return &result, nil
}

func environmentsFromCfg(cfgEnvs []*cfg.Environment) (map[string]*Environment, error) {
	result := make(map[string]*Environment, len(cfgEnvs))

	for _, cfgEnv := range cfgEnvs {
		if cfgEnv.Name == "" {
			return nil, errors.New("environment: missing field: 'name'")
		}

		env := Environment{
			Name:              cfgEnv.Name,
			TriggeredBy:       cfgEnv.TriggeredBy,
			WaitForDeployment: cfgEnv.WaitForDeployment,
		}

		for _, branch := range cfgEnv.TriggeredBy {
			if branch == "" {
				return nil, fmt.Errorf("environment %s: 'triggered_by' contains an empty branch name", env.Name)
			}

			if other, exists := result[branch]; exists {
				return nil, fmt.Errorf(
					"environment %s: branch %q already triggers environment %s",
					env.Name, branch, other.Name,
				)
			}

			result[branch] = &env
		}
	}

	return result, nil
}

func strategiesFromCfg(cfgStrategies []*cfg.Strategy, deployEnv map[string]*Environment) (map[string]*Strategy, error) {
	result := make(map[string]*Strategy, len(cfgStrategies))

	for _, cfgStrat := range cfgStrategies {
		if cfgStrat.Name == "" {
			return nil, errors.New("strategy: missing field: 'name'")
		}

		if _, exists := result[cfgStrat.Name]; exists {
			return nil, fmt.Errorf("strategy %s: defined multiple times", cfgStrat.Name)
		}

		if len(cfgStrat.Flow) < 2 {
			return nil, fmt.Errorf("strategy %s: 'flow' must list at least 2 branches, got %d", cfgStrat.Name, len(cfgStrat.Flow))
		}

		strat := Strategy{
			Name:               cfgStrat.Name,
			Flow:               cfgStrat.Flow,
			AdditionalBranches: cfgStrat.AdditionalBranches,
			edges:              make([]*Edge, 0, len(cfgStrat.Flow)-1),
			deployEnv:          deployEnv,
		}

		for i, branch := range cfgStrat.Flow {
			if branch == "" {
				return nil, fmt.Errorf("strategy %s: 'flow' contains an empty branch name", cfgStrat.Name)
			}

			if i == 0 {
				continue
			}

			from := cfgStrat.Flow[i-1]
			if from == branch {
				return nil, fmt.Errorf("strategy %s: 'flow' repeats branch %q in adjacent positions", cfgStrat.Name, branch)
			}

			strat.edges = append(strat.edges, &Edge{
				Strategy:          cfgStrat.Name,
				Index:             i - 1,
				From:              from,
				To:                branch,
				DeployEnvironment: deployEnv[branch],
			})
		}

		result[strat.Name] = &strat
	}

	return result, nil
}

// Repositories returns all repositories in configuration order.
func (r *Registry) Repositories() []*Repository {
	return r.repositories
}

// Repository looks up a repository by name.
func (r *Registry) Repository(name string) (*Repository, bool) {
	repo, exists := r.byName[name]
	return repo, exists
}

// Libraries returns the library repositories, configuration order preserved.
func (r *Registry) Libraries() []*Repository {
	return r.byCategory(CategoryLibrary)
}

// Services returns the service repositories, configuration order preserved.
func (r *Registry) Services() []*Repository {
	return r.byCategory(CategoryService)
}

func (r *Registry) byCategory(category Category) []*Repository {
	var result []*Repository

	for _, repo := range r.repositories {
		if repo.Category == category {
			result = append(result, repo)
		}
	}

	return result
}
