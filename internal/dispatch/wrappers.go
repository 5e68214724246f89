package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
	"github.com/anima/anima/internal/riskgate"
)

// dispatchWithFallback implements the uniform call(step_name, args)
// pseudocode from the dispatch table design: an unbound current
// implementation is tallied as an "unavailable" fallback and the
// baseline runs directly; a bound implementation that errors is tallied
// as a "runtime" (or classified) fallback and the baseline runs as the
// recovery path. The baseline is assumed to always succeed.
func dispatchWithFallback[Out any](t *Table, step string, impl func() (Out, error), baseline func() (Out, error)) Out {
	if impl == nil {
		result, _ := baseline()
		t.monitor.RecordFallback(step, "unavailable", "impl missing")
		return result
	}

	result, err := impl()
	if err == nil {
		t.monitor.RecordSuccess(step)
		return result
	}

	t.monitor.RecordFallback(step, kernel.ClassifyError(err), err.Error())
	result, _ = baseline()
	return result
}

// Scan runs the scan step through the dispatch table.
func (t *Table) Scan(ctx context.Context) kernel.ProjectState {
	stages := t.snapshotCurrent()
	var impl func() (kernel.ProjectState, error)
	if stages.Scan != nil {
		impl = func() (kernel.ProjectState, error) { return stages.Scan(ctx) }
	}
	baseline := func() (kernel.ProjectState, error) { return t.baseline.Scan(ctx) }
	return dispatchWithFallback(t, "scan", impl, baseline)
}

// Analyze runs the analyze step, short-circuiting to "NO_GAPS" whenever
// a risk gate is pending so the driver sleeps until a human approves.
func (t *Table) Analyze(ctx context.Context, vision kernel.Vision, state kernel.ProjectState, history []kernel.IterationRecord) string {
	if t.gate.IsGatePending() {
		return "NO_GAPS"
	}

	stages := t.snapshotCurrent()
	var impl func() (string, error)
	if stages.Analyze != nil {
		impl = func() (string, error) { return stages.Analyze(ctx, vision, state, history) }
	}
	baseline := func() (string, error) { return t.baseline.Analyze(ctx, vision, state, history) }
	return dispatchWithFallback(t, "analyze", impl, baseline)
}

// Plan runs the plan step through the dispatch table.
func (t *Table) Plan(ctx context.Context, state kernel.ProjectState, gapsText string, history []kernel.IterationRecord, iterationCount int) kernel.IterationPlan {
	stages := t.snapshotCurrent()
	var impl func() (kernel.IterationPlan, error)
	if stages.Plan != nil {
		impl = func() (kernel.IterationPlan, error) { return stages.Plan(ctx, state, gapsText, history, iterationCount) }
	}
	baseline := func() (kernel.IterationPlan, error) { return t.baseline.Plan(ctx, state, gapsText, history, iterationCount) }
	return dispatchWithFallback(t, "plan", impl, baseline)
}

const gatedOutputMessage = "GATED: awaiting human approval"

// Execute runs the execute step through the dispatch table, preceded by
// risk-gate classification and followed by a single capped-sleep retry
// when a failed result carries a non-ok QuotaState. In dry-run no
// execute implementation is called: a successful DryRun result is
// returned instead. The returned result is also cached as the "last
// execution" slot the verify wrapper cross-checks.
func (t *Table) Execute(ctx context.Context, plan kernel.IterationPlan, dryRun bool, progress chan<- ports.ProgressEvent) kernel.ExecutionResult {
	if dryRun {
		result := kernel.ExecutionResult{
			Success:    true,
			OutputTail: "dry run: agent not invoked",
			DryRun:     true,
		}
		t.setLastExecution(result)
		return result
	}
	decision := riskgate.Classify(plan.PromptText)
	if decision.Gated {
		bypassed, _ := t.gate.ConsumeBypass()
		if !bypassed {
			_ = t.gate.WriteGate(plan.GapsSummary, decision.Indicators)
			result := kernel.ExecutionResult{
				Success:    true,
				OutputTail: gatedOutputMessage,
				DryRun:     true,
			}
			t.setLastExecution(result)
			return result
		}
	}

	stages := t.snapshotCurrent()
	var impl func() (kernel.ExecutionResult, error)
	if stages.Execute != nil {
		impl = func() (kernel.ExecutionResult, error) { return stages.Execute(ctx, plan, progress) }
	}
	baseline := func() (kernel.ExecutionResult, error) { return t.baseline.Execute(ctx, plan, progress) }

	result := dispatchWithFallback(t, "execute", impl, baseline)

	if !result.Success && result.Quota != nil && result.Quota.Status != kernel.QuotaOK {
		sleepCtx(ctx, t.quotaPolicy.SleepFor(result.Quota))
		result = dispatchWithFallback(t, "execute", impl, baseline)
	}

	t.setLastExecution(result)
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Verify runs the verify step and merges an EXECUTION issue when the
// last execute result recorded a failure, so the driver rolls back even
// when the dispatched verifier itself can't see execution failures.
func (t *Table) Verify(ctx context.Context, pre, post kernel.ProjectState) kernel.VerificationReport {
	stages := t.snapshotCurrent()
	var impl func() (kernel.VerificationReport, error)
	if stages.Verify != nil {
		impl = func() (kernel.VerificationReport, error) { return stages.Verify(ctx, pre, post) }
	}
	baseline := func() (kernel.VerificationReport, error) { return t.baseline.Verify(ctx, pre, post) }

	report := dispatchWithFallback(t, "verify", impl, baseline)

	if last := t.LastExecution(); last != nil && !last.Success {
		report.Issues = append(report.Issues, "EXECUTION: agent execution failed: "+last.ErrorsTail)
		report.AllPassed = false
	}
	return report
}

// Record runs the record step through the dispatch table.
func (t *Table) Record(ctx context.Context, iterationID string, plan kernel.IterationPlan, exec kernel.ExecutionResult, verification kernel.VerificationReport, elapsedSeconds float64) (kernel.RecordSummary, error) {
	stages := t.snapshotCurrent()
	var impl func() (kernel.RecordSummary, error)
	if stages.Record != nil {
		impl = func() (kernel.RecordSummary, error) {
			return stages.Record(ctx, iterationID, plan, exec, verification, elapsedSeconds)
		}
	}
	baseline := func() (kernel.RecordSummary, error) {
		return t.baseline.Record(ctx, iterationID, plan, exec, verification, elapsedSeconds)
	}

	if impl == nil {
		result, err := baseline()
		if err != nil {
			return kernel.RecordSummary{}, err
		}
		t.monitor.RecordFallback("record", "unavailable", "impl missing")
		return result, nil
	}

	result, err := impl()
	if err == nil {
		t.monitor.RecordSuccess("record")
		return result, nil
	}

	// record's own error (a duplicate iteration id) must not be masked by
	// silently falling back to the baseline: a duplicate write is a real
	// invariant violation the driver must see, not something a baseline
	// retry can paper over by writing the same id again.
	if errors.Is(err, kernel.ErrDuplicateRecord) {
		t.monitor.RecordFallback("record", kernel.ClassifyError(err), err.Error())
		return kernel.RecordSummary{}, err
	}

	t.monitor.RecordFallback("record", kernel.ClassifyError(err), err.Error())
	result, err = baseline()
	return result, err
}
