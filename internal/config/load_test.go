package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imgcap.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadDefaults verifies the values used when nothing is configured.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Broker.Addr)
	assert.Equal(t, "imgcap:tasks", cfg.Broker.TaskQueue)
	assert.Equal(t, "imgcap:completions", cfg.Broker.CompletionQueue)
	assert.Equal(t, time.Second, cfg.Broker.RetryDelay)
	assert.True(t, strings.HasSuffix(cfg.Broker.Consumer, fmt.Sprintf("-%d", os.Getpid())),
		"consumer defaults to <hostname>-<pid>, got %q", cfg.Broker.Consumer)

	assert.Equal(t, 800*time.Millisecond, cfg.Dispatch.PublishTimeout)
	assert.Equal(t, time.Second, cfg.Dispatch.DrainInterval)
	assert.Equal(t, 0, cfg.Dispatch.BufferCapacity)
	assert.Equal(t, "reject", cfg.Dispatch.OverflowPolicy)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, "fs", cfg.Store.Backend)
	assert.Equal(t, "/data", cfg.Store.Dir)
	assert.Equal(t, "hash", cfg.Captioner.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

// TestLoadFromEnv verifies environment variables override defaults.
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IMGCAP_BROKER_ADDR", "rabbit:6380")
	t.Setenv("IMGCAP_DISPATCH_PUBLISH_TIMEOUT", "250ms")
	t.Setenv("IMGCAP_SERVER_PORT", "9090")
	t.Setenv("IMGCAP_WORKER_CONCURRENCY", "4")
	t.Setenv("IMGCAP_STORE_BACKEND", "sqlite")
	t.Setenv("IMGCAP_STORE_SQLITE_PATH", "/tmp/results.db")
	t.Setenv("IMGCAP_BROKER_CONSUMER", "worker-a")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "rabbit:6380", cfg.Broker.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.PublishTimeout)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/results.db", cfg.Store.SQLitePath)
	assert.Equal(t, "worker-a", cfg.Broker.Consumer)
}

// TestLoadFromFile verifies the TOML file is applied and env still wins over it.
func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, `
[broker]
addr = "redis:6379"
retry_delay = "2s"

[dispatch]
buffer_capacity = 100
overflow_policy = "drop_oldest"

[captioner]
backend = "docker"
docker_image = "ghcr.io/example/captioner:latest"
docker_command = ["python", "caption.py"]
`)
	t.Setenv("IMGCAP_BROKER_ADDR", "override:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "override:6379", cfg.Broker.Addr)
	assert.Equal(t, 2*time.Second, cfg.Broker.RetryDelay)
	assert.Equal(t, 100, cfg.Dispatch.BufferCapacity)
	assert.Equal(t, "drop_oldest", cfg.Dispatch.OverflowPolicy)
	assert.Equal(t, "docker", cfg.Captioner.Backend)
	assert.Equal(t, []string{"python", "caption.py"}, cfg.Captioner.DockerCommand)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
[dispatch]
publish_timout = "1s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.publish_timout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

// TestLoadValidationErrors verifies invalid values are rejected.
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		envVars map[string]string
	}{
		{
			name:    "invalid port",
			envVars: map[string]string{"IMGCAP_SERVER_PORT": "999999"},
		},
		{
			name:    "invalid overflow policy",
			envVars: map[string]string{"IMGCAP_DISPATCH_OVERFLOW_POLICY": "drop_newest"},
		},
		{
			name:    "sqlite without path",
			envVars: map[string]string{"IMGCAP_STORE_BACKEND": "sqlite"},
		},
		{
			name:    "gemini without key",
			envVars: map[string]string{"IMGCAP_CAPTIONER_BACKEND": "gemini"},
		},
		{
			name:    "same queue for tasks and completions",
			envVars: map[string]string{"IMGCAP_BROKER_COMPLETION_QUEUE": "imgcap:tasks"},
		},
		{
			name:    "zero worker concurrency",
			envVars: map[string]string{"IMGCAP_WORKER_CONCURRENCY": "0"},
		},
		{
			name:    "unknown log level",
			envVars: map[string]string{"IMGCAP_LOG_LEVEL": "fatal"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load("")
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, IsValidationError(err), "want validation error, got %v", err)
		})
	}
}
