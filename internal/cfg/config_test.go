package cfg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
forge = "gitlab"
state_file = "/var/lib/mergeflow/state.json"
http_server_listen_addr = ":8084"

[gitlab]
url = "https://gitlab.example.com"
api_token = "glpat-0123"

[sentry]
dsn = "https://key@sentry.example.com/1"
environment = "production"

[automation]
auto_merge = true
progressive = false
skip_empty_edges = true
retry_attempts = 5
concurrency = 2
run_label = "sprint-34"
retry_backoff = "2s"
poll_interval = "10s"
pipeline_timeout = "45m"
deployment_timeout = "15m"

[[notifier]]
webhook_url = "https://hooks.example.com/deploy"
filter_query = '.status == "failed"'

[[repository]]
name = "ss/library"
category = "library"
strategy = "default"

[[repository]]
name = "ss/app"
category = "service"
strategy = "default"

[[strategy]]
name = "default"
flow = ["S", "ss-dev", "sit2"]
additional_branches = ["hotfix-a"]

[[environment]]
name = "sit2"
triggered_by = ["sit2"]
wait_for_deployment = true
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "gitlab", config.Forge)
	assert.Equal(t, "/var/lib/mergeflow/state.json", config.StateFile)
	assert.Equal(t, ":8084", config.HTTPListenAddr)
	assert.Equal(t, "https://gitlab.example.com", config.GitLab.URL)
	assert.Equal(t, "glpat-0123", config.GitLab.APIToken)
	assert.Equal(t, "production", config.Sentry.Environment)

	assert.True(t, config.Automation.AutoMerge)
	assert.False(t, config.Automation.Progressive)
	assert.Equal(t, uint(5), config.Automation.RetryAttempts)
	assert.Equal(t, uint(2), config.Automation.Concurrency)
	assert.Equal(t, "sprint-34", config.Automation.RunLabel)

	require.Len(t, config.Notifiers, 1)
	assert.Equal(t, "https://hooks.example.com/deploy", config.Notifiers[0].WebhookURL)
	assert.Equal(t, `.status == "failed"`, config.Notifiers[0].FilterQuery)

	require.Len(t, config.Repositories, 2)
	assert.Equal(t, "ss/library", config.Repositories[0].Name)
	assert.Equal(t, "library", config.Repositories[0].Category)
	assert.Equal(t, "default", config.Repositories[0].Strategy)

	require.Len(t, config.Strategies, 1)
	assert.Equal(t, []string{"S", "ss-dev", "sit2"}, config.Strategies[0].Flow)
	assert.Equal(t, []string{"hotfix-a"}, config.Strategies[0].AdditionalBranches)

	require.Len(t, config.Environments, 1)
	assert.Equal(t, "sit2", config.Environments[0].Name)
	assert.True(t, config.Environments[0].WaitForDeployment)
}

func TestLoadAppliesDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(`
[[repository]]
name = "ss/library"
category = "library"
strategy = "default"
`))
	require.NoError(t, err)

	assert.Equal(t, "gitlab", config.Forge)
	assert.Equal(t, "mergeflow-state.json", config.StateFile)
	assert.Equal(t, "logfmt", config.LogFormat)
	assert.True(t, config.Automation.AutoMerge)
	assert.True(t, config.Automation.Progressive)
	assert.True(t, config.Automation.SkipEmptyEdges)
	assert.Equal(t, uint(3), config.Automation.RetryAttempts)
	assert.Equal(t, "10s", config.Automation.PollInterval)
}

func TestTiming(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	timing, err := config.Automation.Timing()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, timing.RetryBackoff)
	assert.Equal(t, 10*time.Second, timing.PollInterval)
	assert.Equal(t, 45*time.Minute, timing.PipelineTimeout)
	assert.Equal(t, 15*time.Minute, timing.DeploymentTimeout)
}

func TestTimingRejectsInvalidDuration(t *testing.T) {
	automation := Automation{
		RetryBackoff:      "5s",
		PollInterval:      "soon",
		PipelineTimeout:   "30m",
		DeploymentTimeout: "20m",
	}

	_, err := automation.Timing()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestLoadInvalidTOML(t *testing.T) {
	_, err := Load(strings.NewReader(`forge = `))
	require.Error(t, err)
}
