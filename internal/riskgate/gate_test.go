package riskgate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/kernel"
)

func TestClassifyUngatedPrompt(t *testing.T) {
	decision := Classify("Add a docstring to the parser helper function.")
	assert.False(t, decision.Gated)
	assert.Equal(t, kernel.RiskLow, decision.RiskLevel)
	assert.Empty(t, decision.Indicators)
}

func TestClassifyMatchesMultipleIndicators(t *testing.T) {
	decision := Classify("Please rewrite the module and also delete the file old_parser.go.")
	assert.True(t, decision.Gated)
	assert.Equal(t, kernel.RiskHigh, decision.RiskLevel)
	assert.Contains(t, decision.Indicators, "major restructuring")
	assert.Contains(t, decision.Indicators, "deletes files")
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	decision := Classify("We should RESTRUCTURE the billing package entirely.")
	assert.True(t, decision.Gated)
}

func TestGateLifecycle(t *testing.T) {
	dir := t.TempDir()
	gate := New(dir)

	assert.False(t, gate.IsGatePending())
	assert.False(t, gate.IsGateBypassed())

	require.NoError(t, gate.WriteGate("fix billing module", []string{"major restructuring"}))
	assert.True(t, gate.IsGatePending())
	assert.FileExists(t, filepath.Join(dir, "gate_pending.json"))

	require.NoError(t, gate.ClearGate())
	assert.False(t, gate.IsGatePending())
	assert.True(t, gate.IsGateBypassed())

	consumed, err := gate.ConsumeBypass()
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.False(t, gate.IsGateBypassed())

	consumedAgain, err := gate.ConsumeBypass()
	require.NoError(t, err)
	assert.False(t, consumedAgain)
}
