package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotEmpty(t, cfg.Backends)
	assert.Equal(t, 3, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Dispatcher.RateCooldown)
	assert.Equal(t, 2, cfg.Dispatcher.StructuredRetries)
	assert.Equal(t, 100, cfg.Iteration.MaxIterations)
	assert.Equal(t, 20, cfg.Iteration.SnapshotKeep)
	assert.Equal(t, "workspace", cfg.Project.WorkspaceDir)
	assert.Equal(t, "index.html", cfg.Evaluation.RequiredFile)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			mutate: func(c *Config) {},
		},
		{
			name:    "no backends",
			mutate:  func(c *Config) { c.Backends = nil },
			wantErr: "at least one backend",
		},
		{
			name: "backend without name",
			mutate: func(c *Config) {
				c.Backends = []BackendConfig{{Provider: "openai"}}
			},
			wantErr: "name is required",
		},
		{
			name: "duplicate backend name",
			mutate: func(c *Config) {
				c.Backends = []BackendConfig{
					{Name: "m", Provider: "openai"},
					{Name: "m", Provider: "ollama"},
				}
			},
			wantErr: "duplicate backend name",
		},
		{
			name: "backend without provider",
			mutate: func(c *Config) {
				c.Backends = []BackendConfig{{Name: "m"}}
			},
			wantErr: "provider is required",
		},
		{
			name:    "zero retry budget",
			mutate:  func(c *Config) { c.Dispatcher.MaxRetries = 0 },
			wantErr: "max_retries",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.Dispatcher.RateCooldown = -time.Second },
			wantErr: "rate_cooldown",
		},
		{
			name:    "zero snapshot keep",
			mutate:  func(c *Config) { c.Iteration.SnapshotKeep = 0 },
			wantErr: "snapshot_keep",
		},
		{
			name:    "empty workspace dir",
			mutate:  func(c *Config) { c.Project.WorkspaceDir = "" },
			wantErr: "workspace_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgeloop.yaml")

	cfg := DefaultConfig()
	cfg.Backends = []BackendConfig{
		{Name: "primary", Provider: "anthropic"},
		{Name: "fallback", Provider: "ollama", URL: "http://localhost:11434/v1"},
	}
	cfg.Iteration.MaxIterations = 7
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Backends, loaded.Backends)
	assert.Equal(t, 7, loaded.Iteration.MaxIterations)
	assert.Equal(t, cfg.Dispatcher.RateCooldown, loaded.Dispatcher.RateCooldown)
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	override.Backends = []BackendConfig{{Name: "only", Provider: "openai"}}
	override.Iteration.MaxIterations = 5
	override.Events.NATSURL = "nats://localhost:4222"

	base.Merge(override)

	assert.Len(t, base.Backends, 1)
	assert.Equal(t, "only", base.Backends[0].Name)
	assert.Equal(t, 5, base.Iteration.MaxIterations)
	assert.Equal(t, "nats://localhost:4222", base.Events.NATSURL)
	// Untouched fields keep defaults
	assert.Equal(t, 3, base.Dispatcher.MaxRetries)
}

func TestMergeNil(t *testing.T) {
	base := DefaultConfig()
	base.Merge(nil)
	assert.NoError(t, base.Validate())
}
