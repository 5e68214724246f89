// Package riskgate implements the Risk Gate: pure prompt classification
// plus file-based pending/bypass marker state, modeled on
// internal/core/validation.go's pattern matching and
// internal/core/checkpoint.go's marker-file bookkeeping.
package riskgate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anima/anima/internal/kernel"
)

// indicator is one classification rule: a human label plus the set of
// case-insensitive substrings that trigger it.
type indicator struct {
	label    string
	patterns []string
}

var indicators = []indicator{
	{
		label:    "modifies domain types",
		patterns: []string{"domain model", "domain type", "internal/kernel", "internal/ports"},
	},
	{
		label:    "modifies dispatch wiring",
		patterns: []string{"internal/dispatch", "dispatch table", "dispatch wiring"},
	},
	{
		label:    "deletes files",
		patterns: []string{"delete the file", "delete file", "remove the file", "remove file"},
	},
	{
		label:    "major restructuring",
		patterns: []string{"rewrite the module", "rewrite module", "restructure", "major refactor"},
	},
}

// Classify inspects prompt text and returns a GateDecision. Any matched
// indicator gates the prompt at high risk; no match means ungated, low
// risk.
func Classify(prompt string) kernel.GateDecision {
	lower := strings.ToLower(prompt)

	var matched []string
	for _, ind := range indicators {
		for _, pattern := range ind.patterns {
			if strings.Contains(lower, pattern) {
				matched = append(matched, ind.label)
				break
			}
		}
	}

	if len(matched) == 0 {
		return kernel.GateDecision{Gated: false, RiskLevel: kernel.RiskLow}
	}
	return kernel.GateDecision{Gated: true, RiskLevel: kernel.RiskHigh, Indicators: matched}
}

// Gate manages the pending-gate and bypass marker files in the hidden
// project directory.
type Gate struct {
	pendingPath string
	bypassPath  string
}

// New creates a Gate rooted at dir (the standard layout's ".anima"
// directory).
func New(dir string) *Gate {
	return &Gate{
		pendingPath: filepath.Join(dir, "gate_pending.json"),
		bypassPath:  filepath.Join(dir, "gate_bypass"),
	}
}

type pendingDoc struct {
	GapsSummary     string   `json:"gaps_summary"`
	RiskIndicators  []string `json:"risk_indicators"`
	Timestamp       string   `json:"timestamp"`
}

// IsGatePending reports whether a pending-gate marker exists.
func (g *Gate) IsGatePending() bool {
	_, err := os.Stat(g.pendingPath)
	return err == nil
}

// IsGateBypassed reports whether a bypass marker exists.
func (g *Gate) IsGateBypassed() bool {
	_, err := os.Stat(g.bypassPath)
	return err == nil
}

// WriteGate creates the pending-gate marker with the supplied summary
// and matched indicators.
func (g *Gate) WriteGate(gapsSummary string, indicators []string) error {
	if err := os.MkdirAll(filepath.Dir(g.pendingPath), 0o755); err != nil {
		return fmt.Errorf("creating gate directory: %w", err)
	}
	doc := pendingDoc{
		GapsSummary:    gapsSummary,
		RiskIndicators: indicators,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling gate marker: %w", err)
	}
	return os.WriteFile(g.pendingPath, data, 0o644)
}

// ClearGate deletes the pending-gate marker and writes a bypass marker,
// as invoked by the human approve command.
func (g *Gate) ClearGate() error {
	if err := os.Remove(g.pendingPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing pending gate: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(g.bypassPath), 0o755); err != nil {
		return fmt.Errorf("creating gate directory: %w", err)
	}
	return os.WriteFile(g.bypassPath, []byte("bypass\n"), 0o644)
}

// ConsumeBypass removes the bypass marker, reporting whether it existed.
func (g *Gate) ConsumeBypass() (bool, error) {
	err := os.Remove(g.bypassPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consuming bypass marker: %w", err)
	}
	return true, nil
}
