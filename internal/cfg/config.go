// Package cfg loads the TOML configuration file.
package cfg

import (
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml"
)

type Config struct {
	Forge          string `toml:"forge"`
	StateFile      string `toml:"state_file"`
	LogFormat      string `toml:"log_format"`
	LogTimeKey     string `toml:"log_time_key"`
	HTTPListenAddr string `toml:"http_server_listen_addr"`

	GitLab     GitLabAPI  `toml:"gitlab"`
	GitHub     GitHubAPI  `toml:"github"`
	Sentry     Sentry     `toml:"sentry"`
	Automation Automation `toml:"automation"`

	Notifiers    []*Notifier    `toml:"notifier"`
	Repositories []*Repository  `toml:"repository"`
	Strategies   []*Strategy    `toml:"strategy"`
	Environments []*Environment `toml:"environment"`
}

type GitLabAPI struct {
	URL      string `toml:"url"`
	APIToken string `toml:"api_token"`
}

type GitHubAPI struct {
	APIToken string `toml:"api_token"`
}

type Sentry struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

type Repository struct {
	Name     string `toml:"name"`
	Category string `toml:"category"`
	Strategy string `toml:"strategy"`
}

type Strategy struct {
	Name               string   `toml:"name"`
	Flow               []string `toml:"flow"`
	AdditionalBranches []string `toml:"additional_branches"`
}

type Environment struct {
	Name              string   `toml:"name"`
	TriggeredBy       []string `toml:"triggered_by"`
	WaitForDeployment bool     `toml:"wait_for_deployment"`
}

type Notifier struct {
	WebhookURL  string `toml:"webhook_url"`
	FilterQuery string `toml:"filter_query"`
}

// Automation holds the engine tunables. Duration settings are Go duration
// strings, parsed via Timing().
type Automation struct {
	AutoMerge      bool   `toml:"auto_merge"`
	Progressive    bool   `toml:"progressive"`
	SkipEmptyEdges bool   `toml:"skip_empty_edges"`
	RetryAttempts  uint   `toml:"retry_attempts"`
	Concurrency    uint   `toml:"concurrency"`
	RunLabel       string `toml:"run_label"`

	RetryBackoff      string `toml:"retry_backoff"`
	PollInterval      string `toml:"poll_interval"`
	PipelineTimeout   string `toml:"pipeline_timeout"`
	DeploymentTimeout string `toml:"deployment_timeout"`
}

// Timing holds the parsed automation durations.
type Timing struct {
	RetryBackoff      time.Duration
	PollInterval      time.Duration
	PipelineTimeout   time.Duration
	DeploymentTimeout time.Duration
}

// Timing parses the duration strings of the automation section.
func (a *Automation) Timing() (*Timing, error) {
	var result Timing
	var err error

	for _, field := range []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{name: "retry_backoff", value: a.RetryBackoff, dest: &result.RetryBackoff},
		{name: "poll_interval", value: a.PollInterval, dest: &result.PollInterval},
		{name: "pipeline_timeout", value: a.PipelineTimeout, dest: &result.PipelineTimeout},
		{name: "deployment_timeout", value: a.DeploymentTimeout, dest: &result.DeploymentTimeout},
	} {
		*field.dest, err = time.ParseDuration(field.value)
		if err != nil {
			return nil, fmt.Errorf("automation setting %s: %w", field.name, err)
		}
	}

	return &result, nil
}

// Load reads a TOML document from reader. Settings that are absent in the
// document keep their default values.
func Load(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	result := defaultConfig()

	if err := toml.Unmarshal(data, result); err != nil {
		return nil, err
	}

	return result, nil
}

func defaultConfig() *Config {
	return &Config{
		Forge:      "gitlab",
		StateFile:  "mergeflow-state.json",
		LogFormat:  "logfmt",
		LogTimeKey: "time",
		Automation: Automation{
			AutoMerge:         true,
			Progressive:       true,
			SkipEmptyEdges:    true,
			RetryAttempts:     3,
			Concurrency:       4,
			RetryBackoff:      "5s",
			PollInterval:      "10s",
			PipelineTimeout:   "30m",
			DeploymentTimeout: "20m",
		},
	}
}
