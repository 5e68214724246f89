package animaclient

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/config"
	"github.com/anima/anima/internal/kernel"
)

func testConfig(root string) config.Config {
	return config.Config{
		Agent: config.AgentConfig{
			Backend:          "claude",
			LintCommand:      "true",
			TypecheckCommand: "true",
			TestCommand:      "true",
		},
		Paths: config.PathsConfig{
			ProjectRoot: root,
			Protected:   config.DefaultProtectedPaths("internal/dispatch", "internal/dispatch/table.go"),
		},
		Limits: config.DefaultLimits(),
	}
}

func TestNewWiresDefaultLayout(t *testing.T) {
	root := t.TempDir()
	client, err := New(testConfig(root), nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, ".anima"), client.Layout.DotDir)
	assert.Equal(t, filepath.Join(root, ".anima", "anima.lock"), client.LockPath())
	assert.NotNil(t, client.Driver)
}

func TestNewRejectsMissingProjectRoot(t *testing.T) {
	cfg := testConfig("")
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestNewRejectsUnknownAgentBackend(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Agent.Backend = "not-a-real-backend"
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestStatusDefaultsBeforeAnyIteration(t *testing.T) {
	client, err := New(testConfig(t.TempDir()), nil)
	require.NoError(t, err)

	st, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.IterationCount)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestResetClearsFailuresAndResumesFromSleep(t *testing.T) {
	ctx := context.Background()
	client, err := New(testConfig(t.TempDir()), nil)
	require.NoError(t, err)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	st.ConsecutiveFailures = 2
	st.Status = kernel.StatusPaused
	require.NoError(t, client.State.Save(ctx, st))

	reset, err := client.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reset.ConsecutiveFailures)
	assert.Equal(t, kernel.StatusSleep, reset.Status)
}

func TestLogWithNoHistoryReturnsEmpty(t *testing.T) {
	client, err := New(testConfig(t.TempDir()), nil)
	require.NoError(t, err)

	records, err := client.Log(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGateLifecycle(t *testing.T) {
	client, err := New(testConfig(t.TempDir()), nil)
	require.NoError(t, err)

	assert.False(t, client.GatePending())
	require.NoError(t, client.Gate.WriteGate("touches internal/kernel", []string{"modifies domain types"}))
	assert.True(t, client.GatePending())

	require.NoError(t, client.Approve())
	assert.False(t, client.GatePending())
}
