package quality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/kernel"
)

func TestLinterUnconfiguredIsUnavailable(t *testing.T) {
	l := NewLinter(t.TempDir(), "", "", 0, 0)
	_, err := l.RunLint(context.Background())
	assert.ErrorIs(t, err, kernel.ErrToolUnavailable)
}

func TestLinterRunsPassingCommand(t *testing.T) {
	l := NewLinter(t.TempDir(), "echo ok", "exit 1", time.Second, time.Second)

	lint, err := l.RunLint(context.Background())
	require.NoError(t, err)
	assert.True(t, lint.Passed)
	assert.Contains(t, lint.Output, "ok")

	typecheck, err := l.RunTypecheck(context.Background())
	require.NoError(t, err)
	assert.False(t, typecheck.Passed)
}

func TestTestRunnerTimeout(t *testing.T) {
	r := NewTestRunner(t.TempDir(), "sleep 5", 10*time.Millisecond)
	result, err := r.RunTests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, result.ExitCode)
	assert.False(t, result.Passed)
}

func TestTestRunnerReportsExitCode(t *testing.T) {
	r := NewTestRunner(t.TempDir(), "exit 7", time.Second)
	result, err := r.RunTests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, result.ExitCode)
	assert.False(t, result.Passed)
}
