// Package state persists the single AnimaState document, following
// CheckpointManager's approach (internal/core/checkpoint.go): marshal
// to indented JSON, write through a Storage-like port, re-read every
// time rather than caching so an external human edit (a manual reset)
// is always picked up.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anima/anima/internal/kernel"
)

// Store persists kernel.AnimaState at a well-known path under the
// project's hidden .anima directory.
type Store struct {
	path string
}

// New creates a Store backed by the given state file path
// (".anima/state.json" in the standard layout).
func New(path string) *Store {
	return &Store{path: path}
}

// stateDoc is the on-disk JSON shape; enumerated fields are serialised
// as their canonical string values.
type stateDoc struct {
	IterationCount      int      `json:"iteration_count"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastIterationID     string   `json:"last_iteration_id"`
	Status              string   `json:"status"`
	CompletedItems      []string `json:"completed_items"`
	CurrentMilestone    string   `json:"current_milestone"`
	CumulativeCostUSD   float64  `json:"cumulative_cost_usd"`
	CumulativeTokens    int      `json:"cumulative_tokens"`
	CumulativeSeconds   float64  `json:"cumulative_seconds"`
}

func toDoc(s kernel.AnimaState) stateDoc {
	return stateDoc{
		IterationCount:      s.IterationCount,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastIterationID:     s.LastIterationID,
		Status:              string(s.Status),
		CompletedItems:      s.CompletedItems,
		CurrentMilestone:    s.CurrentMilestone,
		CumulativeCostUSD:   s.CumulativeCostUSD,
		CumulativeTokens:    s.CumulativeTokens,
		CumulativeSeconds:   s.CumulativeSeconds,
	}
}

func fromDoc(d stateDoc) kernel.AnimaState {
	return kernel.AnimaState{
		IterationCount:      d.IterationCount,
		ConsecutiveFailures: d.ConsecutiveFailures,
		LastIterationID:     d.LastIterationID,
		Status:              kernel.DriverStatus(d.Status),
		CompletedItems:      d.CompletedItems,
		CurrentMilestone:    d.CurrentMilestone,
		CumulativeCostUSD:   d.CumulativeCostUSD,
		CumulativeTokens:    d.CumulativeTokens,
		CumulativeSeconds:   d.CumulativeSeconds,
	}
}

// Load returns the persisted AnimaState, or kernel.DefaultAnimaState()
// if no state file exists yet (invariant: a fresh project starts alive).
func (s *Store) Load(ctx context.Context) (kernel.AnimaState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return kernel.DefaultAnimaState(), nil
	}
	if err != nil {
		return kernel.AnimaState{}, fmt.Errorf("reading state file: %w", err)
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return kernel.AnimaState{}, fmt.Errorf("parsing state file: %w", err)
	}
	return fromDoc(doc), nil
}

// Save persists state, creating the parent directory if needed and
// writing through a temp-file-then-rename for atomicity where the
// filesystem supports it.
func (s *Store) Save(ctx context.Context, st kernel.AnimaState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(toDoc(st), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("finalizing state file: %w", err)
	}
	return nil
}
