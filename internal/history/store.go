// Package history persists the append-only log of completed iteration
// records, one JSON file per iteration_id, following the same
// marshal/write-through approach as internal/state but keyed by id
// rather than a single document (grounded on the directory-of-files
// layout in internal/core/checkpoint.go's CheckpointManager).
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/anima/anima/internal/kernel"
)

// Store persists kernel.IterationRecord values under dir, one file per
// record named "<iteration_id>.json".
type Store struct {
	dir string
}

// New creates a Store rooted at dir (the standard layout's
// ".anima/iterations" directory).
func New(dir string) *Store {
	return &Store{dir: dir}
}

type recordDoc struct {
	IterationID        string                    `json:"iteration_id"`
	Timestamp          string                    `json:"timestamp"`
	GapAddressed       string                    `json:"gap_addressed"`
	Plan               kernel.IterationPlan      `json:"plan"`
	Execution          kernel.ExecutionResult    `json:"execution"`
	Verification       kernel.VerificationReport `json:"verification"`
	Outcome            string                    `json:"outcome"`
	DurationSeconds    float64                   `json:"duration_seconds"`
	Notes              string                    `json:"notes"`
	AgentOutputExcerpt string                    `json:"agent_output_excerpt"`
}

func toDoc(r kernel.IterationRecord) recordDoc {
	return recordDoc{
		IterationID:        r.IterationID,
		Timestamp:          r.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		GapAddressed:       r.GapAddressed,
		Plan:               r.Plan,
		Execution:          r.Execution,
		Verification:       r.Verification,
		Outcome:            string(r.Outcome),
		DurationSeconds:    r.DurationSeconds,
		Notes:              r.Notes,
		AgentOutputExcerpt: r.AgentOutputExcerpt,
	}
}

func fromDoc(d recordDoc) (kernel.IterationRecord, error) {
	ts, err := parseTimestamp(d.Timestamp)
	if err != nil {
		return kernel.IterationRecord{}, err
	}
	return kernel.IterationRecord{
		IterationID:        d.IterationID,
		Timestamp:          ts,
		GapAddressed:       d.GapAddressed,
		Plan:               d.Plan,
		Execution:          d.Execution,
		Verification:       d.Verification,
		Outcome:            kernel.IterationOutcome(d.Outcome),
		DurationSeconds:    d.DurationSeconds,
		Notes:              d.Notes,
		AgentOutputExcerpt: d.AgentOutputExcerpt,
	}, nil
}

// Save persists record, returning its file path. It fails loudly if a
// record with the same iteration_id already exists, per the "every
// IterationRecord has a unique id" invariant.
func (s *Store) Save(ctx context.Context, record kernel.IterationRecord) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating history directory: %w", err)
	}

	path := s.pathFor(record.IterationID)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", kernel.ErrDuplicateRecord, record.IterationID)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking existing record: %w", err)
	}

	data, err := json.MarshalIndent(toDoc(record), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling iteration record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing iteration record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalizing iteration record: %w", err)
	}
	return path, nil
}

// LoadRecent returns up to count records, newest first.
func (s *Store) LoadRecent(ctx context.Context, count int) ([]kernel.IterationRecord, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if count >= 0 && len(all) > count {
		all = all[:count]
	}
	return all, nil
}

// LoadAll returns every persisted record, ordered by on-disk filename
// (which sorts chronologically since iteration_id is NNNN-YYYYMMDD-HHMMSS).
func (s *Store) LoadAll(ctx context.Context) ([]kernel.IterationRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing history directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	records := make([]kernel.IterationRecord, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading iteration record %s: %w", name, err)
		}
		var doc recordDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing iteration record %s: %w", name, err)
		}
		record, err := fromDoc(doc)
		if err != nil {
			return nil, fmt.Errorf("iteration record %s: %w", name, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) pathFor(iterationID string) string {
	return filepath.Join(s.dir, iterationID+".json")
}
