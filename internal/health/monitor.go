// Package health implements the iteration kernel's health monitor: a
// persistent per-step call/fallback tally and bounded fallback event
// ring, plus the derived composite health score analyze consumes as an
// auto-rewrite trigger. Shaped after HealthMonitor
// (pkg/plugin/health.go) — registered checks, status classification,
// last-observation bookkeeping — but trimmed to the kernel's narrower
// contract: two recording operations plus a read-back, both of which
// must swallow I/O errors rather than ever failing an iteration.
package health

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anima/anima/internal/kernel"
)

const maxEvents = 100

// Monitor tracks per-step reliability and persists it alongside state.
// All methods are safe for concurrent use; within this module only the
// dispatch table and the pipeline stages, driven from the single
// driver goroutine, call them.
type Monitor struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	stats  kernel.HealthStats
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithLogger overrides the monitor's logger, following the
// functional-option pattern used throughout this codebase for wiring
// slog loggers into components.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// New loads (or initializes) the health file at path.
func New(path string, opts ...Option) *Monitor {
	m := &Monitor{
		path:   path,
		logger: slog.Default(),
		stats: kernel.HealthStats{
			ModuleStats: make(map[string]kernel.StepStats),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.load()
	return m
}

// RecordSuccess increments the call tally for step. Failures reading or
// writing the backing file are logged, never returned: monitoring must
// never break iteration.
func (m *Monitor) RecordSuccess(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats.ModuleStats[step]
	stats.Calls++
	m.stats.ModuleStats[step] = stats

	m.persistLocked()
}

// RecordFallback increments the fallback tally for step and pushes an
// event onto the bounded ring, evicting the oldest entry on overflow.
func (m *Monitor) RecordFallback(step, errorKind, errorMessage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats.ModuleStats[step]
	stats.Fallbacks++
	m.stats.ModuleStats[step] = stats

	m.stats.Events = append(m.stats.Events, kernel.FallbackEvent{
		Step:         step,
		ErrorType:    errorKind,
		ErrorMessage: errorMessage,
		Timestamp:    time.Now(),
	})
	if len(m.stats.Events) > maxEvents {
		m.stats.Events = m.stats.Events[len(m.stats.Events)-maxEvents:]
	}

	m.persistLocked()
}

// ReadStats returns a copy of the current health stats.
func (m *Monitor) ReadStats() kernel.HealthStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

func (m *Monitor) copyLocked() kernel.HealthStats {
	cp := kernel.HealthStats{
		ModuleStats: make(map[string]kernel.StepStats, len(m.stats.ModuleStats)),
		Events:      append([]kernel.FallbackEvent(nil), m.stats.Events...),
	}
	for k, v := range m.stats.ModuleStats {
		cp.ModuleStats[k] = v
	}
	return cp
}

func (m *Monitor) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("health file unreadable, starting fresh", "path", m.path, "error", err)
		}
		return
	}

	var doc healthDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn("health file corrupt, starting fresh", "path", m.path, "error", err)
		return
	}
	m.stats = fromDoc(doc)
	if m.stats.ModuleStats == nil {
		m.stats.ModuleStats = make(map[string]kernel.StepStats)
	}
}

func (m *Monitor) persistLocked() {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		m.logger.Warn("could not create health directory", "path", m.path, "error", err)
		return
	}
	data, err := json.MarshalIndent(toDoc(m.stats), "", "  ")
	if err != nil {
		m.logger.Warn("could not marshal health stats", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		m.logger.Warn("could not write health file", "path", m.path, "error", err)
	}
}

// ModuleHealth derives the composite health classification for module,
// combining its structural flags (from a ModuleInfo-derived score) with
// the observed reliability from recorded stats, per the 0.6/0.4 weighted
// composite and 0.7/0.4 thresholds.
func ModuleHealth(module string, info kernel.ModuleInfo, stats kernel.StepStats) kernel.ModuleHealth {
	structural := structuralScore(info)
	reliability := reliabilityScore(stats)
	composite := 0.6*structural + 0.4*reliability

	status := kernel.HealthCritical
	switch {
	case composite >= 0.7:
		status = kernel.HealthHealthy
	case composite >= 0.4:
		status = kernel.HealthDegraded
	}

	return kernel.ModuleHealth{
		Module:           module,
		StructuralScore:  structural,
		ReliabilityScore: reliability,
		Composite:        composite,
		Status:           status,
		LeadingIssue:     leadingIssue(info, stats),
	}
}

func structuralScore(info kernel.ModuleInfo) float64 {
	score := 0.0
	if info.HasContractDoc {
		score += 0.25
	}
	if info.HasSpecDoc {
		score += 0.25
	}
	if info.HasCoreImpl {
		score += 0.25
	}
	if info.HasTestsDir {
		score += 0.25
	}
	return score
}

func reliabilityScore(stats kernel.StepStats) float64 {
	total := stats.Calls + stats.Fallbacks
	if total < 1 {
		return 1.0
	}
	fallbackRate := float64(stats.Fallbacks) / float64(total)
	return 1.0 - fallbackRate
}

func leadingIssue(info kernel.ModuleInfo, stats kernel.StepStats) string {
	switch {
	case !info.HasCoreImpl:
		return "missing core implementation"
	case !info.HasTestsDir:
		return "missing tests directory"
	case !info.HasSpecDoc:
		return "missing spec document"
	case !info.HasContractDoc:
		return "missing contract document"
	case stats.Calls+stats.Fallbacks > 0 && stats.Fallbacks > 0:
		return "elevated fallback rate"
	default:
		return ""
	}
}

type healthDoc struct {
	ModuleStats map[string]kernel.StepStats `json:"module_stats"`
	Events      []eventDoc                  `json:"events"`
}

type eventDoc struct {
	Step         string `json:"step"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Timestamp    string `json:"timestamp"`
}

func toDoc(s kernel.HealthStats) healthDoc {
	events := make([]eventDoc, 0, len(s.Events))
	for _, e := range s.Events {
		events = append(events, eventDoc{
			Step:         e.Step,
			ErrorType:    e.ErrorType,
			ErrorMessage: e.ErrorMessage,
			Timestamp:    e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return healthDoc{ModuleStats: s.ModuleStats, Events: events}
}

func fromDoc(d healthDoc) kernel.HealthStats {
	events := make([]kernel.FallbackEvent, 0, len(d.Events))
	for _, e := range d.Events {
		ts, _ := time.Parse(time.RFC3339, e.Timestamp)
		events = append(events, kernel.FallbackEvent{
			Step:         e.Step,
			ErrorType:    e.ErrorType,
			ErrorMessage: e.ErrorMessage,
			Timestamp:    ts,
		})
	}
	return kernel.HealthStats{ModuleStats: d.ModuleStats, Events: events}
}
