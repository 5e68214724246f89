package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Agent.Backend)
	assert.Equal(t, DefaultLimits().MaxConsecutiveFailures, cfg.Limits.MaxConsecutiveFailures)
	assert.NotEmpty(t, cfg.Paths.Protected)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima", "config.yaml")
	cfg := defaultConfig()
	cfg.Agent.Backend = "codex"
	require.NoError(t, Save(&cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "codex", loaded.Agent.Backend)
}

func TestValidateFillsMissingLimits(t *testing.T) {
	cfg := Config{Agent: AgentConfig{Backend: "claude"}, Paths: PathsConfig{ProjectRoot: "."}}
	require.NoError(t, cfg.validate())
	assert.Equal(t, DefaultLimits(), cfg.Limits)
}
