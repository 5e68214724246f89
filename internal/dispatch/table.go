// Package dispatch implements the mutable dispatch table binding each
// of the six pipeline step names to an implementation, and the uniform
// fallback wrapper every call passes through. Grounded on
// FallbackManager (internal/core/resilience.go): a registry of named
// operations, each tried against a primary then a fallback, with
// telemetry recorded either way. This table narrows that down to
// exactly six fixed, strongly-typed steps rather than a generic
// map[string]interface{} registry — idiomatic Go favors compile-time
// shape over dynamic dispatch here.
package dispatch

import (
	"context"
	"sync"

	"github.com/anima/anima/internal/health"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
	"github.com/anima/anima/internal/quota"
	"github.com/anima/anima/internal/riskgate"
)

// Scanner produces a ProjectState snapshot.
type Scanner func(ctx context.Context) (kernel.ProjectState, error)

// Analyzer produces the gaps text (or the literal "NO_GAPS").
type Analyzer func(ctx context.Context, vision kernel.Vision, state kernel.ProjectState, history []kernel.IterationRecord) (string, error)

// Planner produces an IterationPlan from the current state and gaps.
type Planner func(ctx context.Context, state kernel.ProjectState, gapsText string, history []kernel.IterationRecord, iterationCount int) (kernel.IterationPlan, error)

// Executor dispatches a plan's prompt to the agent, streaming progress.
type Executor func(ctx context.Context, plan kernel.IterationPlan, progress chan<- ports.ProgressEvent) (kernel.ExecutionResult, error)

// Verifier compares pre/post snapshots and produces a VerificationReport.
type Verifier func(ctx context.Context, pre, post kernel.ProjectState) (kernel.VerificationReport, error)

// Recorder persists the iteration's outcome and returns a driver-facing
// summary.
type Recorder func(ctx context.Context, iterationID string, plan kernel.IterationPlan, exec kernel.ExecutionResult, verification kernel.VerificationReport, elapsedSeconds float64) (kernel.RecordSummary, error)

// Stages bundles one implementation per pipeline step.
type Stages struct {
	Scan    Scanner
	Analyze Analyzer
	Plan    Planner
	Execute Executor
	Verify  Verifier
	Record  Recorder
}

// Table is the mutable binding surface: the single legitimate point of
// self-modification. Current bindings may be nil (meaning "run the
// baseline directly, but tally it as a fallback") or a replacement that
// is tried first and falls back to baseline on any error.
type Table struct {
	mu       sync.Mutex
	baseline Stages
	current  Stages

	monitor     *health.Monitor
	gate        *riskgate.Gate
	quotaPolicy quota.Policy

	lastExecution *kernel.ExecutionResult
}

// New builds a Table. baseline must be fully populated; current starts
// empty (every step runs the baseline, recorded as an "unavailable"
// fallback until a replacement is bound).
func New(baseline Stages, monitor *health.Monitor, gate *riskgate.Gate, quotaPolicy quota.Policy) *Table {
	return &Table{
		baseline:    baseline,
		monitor:     monitor,
		gate:        gate,
		quotaPolicy: quotaPolicy,
	}
}

// SetScan rebinds the scan step's current implementation (nil unbinds).
func (t *Table) SetScan(fn Scanner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Scan = fn
}

// SetAnalyze rebinds the analyze step's current implementation.
func (t *Table) SetAnalyze(fn Analyzer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Analyze = fn
}

// SetPlan rebinds the plan step's current implementation.
func (t *Table) SetPlan(fn Planner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Plan = fn
}

// SetExecute rebinds the execute step's current implementation.
func (t *Table) SetExecute(fn Executor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Execute = fn
}

// SetVerify rebinds the verify step's current implementation.
func (t *Table) SetVerify(fn Verifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Verify = fn
}

// SetRecord rebinds the record step's current implementation.
func (t *Table) SetRecord(fn Recorder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Record = fn
}

func (t *Table) snapshotCurrent() Stages {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Table) setLastExecution(result kernel.ExecutionResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := result
	t.lastExecution = &r
}

// LastExecution returns the most recent execute result recorded by the
// execute wrapper, consulted by the verify wrapper to cross-check.
func (t *Table) LastExecution() *kernel.ExecutionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastExecution == nil {
		return nil
	}
	r := *t.lastExecution
	return &r
}
