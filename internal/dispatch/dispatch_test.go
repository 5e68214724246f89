package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/health"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
	"github.com/anima/anima/internal/quota"
	"github.com/anima/anima/internal/riskgate"
)

func newTestTable(t *testing.T, baseline Stages) *Table {
	t.Helper()
	dir := t.TempDir()
	monitor := health.New(filepath.Join(dir, "health.json"))
	gate := riskgate.New(dir)
	policy := quota.NewPolicy(time.Millisecond, time.Millisecond, time.Second)
	return New(baseline, monitor, gate, policy)
}

func TestScanFallsBackToBaselineWhenUnbound(t *testing.T) {
	baseline := Stages{
		Scan: func(ctx context.Context) (kernel.ProjectState, error) {
			return kernel.ProjectState{Files: []string{"baseline"}}, nil
		},
	}
	table := newTestTable(t, baseline)

	result := table.Scan(context.Background())
	assert.Equal(t, []string{"baseline"}, result.Files)

	stats := table.monitor.ReadStats()
	assert.Equal(t, 1, stats.ModuleStats["scan"].Fallbacks)
	assert.Equal(t, 0, stats.ModuleStats["scan"].Calls)
}

func TestScanUsesBoundImplementationOnSuccess(t *testing.T) {
	baseline := Stages{
		Scan: func(ctx context.Context) (kernel.ProjectState, error) {
			return kernel.ProjectState{Files: []string{"baseline"}}, nil
		},
	}
	table := newTestTable(t, baseline)
	table.SetScan(func(ctx context.Context) (kernel.ProjectState, error) {
		return kernel.ProjectState{Files: []string{"replacement"}}, nil
	})

	result := table.Scan(context.Background())
	assert.Equal(t, []string{"replacement"}, result.Files)

	stats := table.monitor.ReadStats()
	assert.Equal(t, 1, stats.ModuleStats["scan"].Calls)
}

func TestScanFallsBackWhenBoundImplementationErrors(t *testing.T) {
	baseline := Stages{
		Scan: func(ctx context.Context) (kernel.ProjectState, error) {
			return kernel.ProjectState{Files: []string{"baseline"}}, nil
		},
	}
	table := newTestTable(t, baseline)
	table.SetScan(func(ctx context.Context) (kernel.ProjectState, error) {
		return kernel.ProjectState{}, errors.New("boom")
	})

	result := table.Scan(context.Background())
	assert.Equal(t, []string{"baseline"}, result.Files)

	stats := table.monitor.ReadStats()
	assert.Equal(t, 1, stats.ModuleStats["scan"].Fallbacks)
}

func TestAnalyzeShortCircuitsWhenGatePending(t *testing.T) {
	baseline := Stages{
		Analyze: func(ctx context.Context, vision kernel.Vision, state kernel.ProjectState, history []kernel.IterationRecord) (string, error) {
			return "some gaps", nil
		},
	}
	table := newTestTable(t, baseline)
	require.NoError(t, table.gate.WriteGate("pending work", []string{"major restructuring"}))

	result := table.Analyze(context.Background(), kernel.Vision{}, kernel.ProjectState{}, nil)
	assert.Equal(t, "NO_GAPS", result)
}

func TestExecuteGatesHighRiskPromptUnlessBypassed(t *testing.T) {
	baseline := Stages{
		Execute: func(ctx context.Context, plan kernel.IterationPlan, progress chan<- ports.ProgressEvent) (kernel.ExecutionResult, error) {
			return kernel.ExecutionResult{Success: true}, nil
		},
	}
	table := newTestTable(t, baseline)
	plan := kernel.IterationPlan{PromptText: "Please restructure the billing module entirely."}

	result := table.Execute(context.Background(), plan, false, nil)
	assert.True(t, result.DryRun)
	assert.Equal(t, gatedOutputMessage, result.OutputTail)
	assert.True(t, table.gate.IsGatePending())

	require.NoError(t, table.gate.ClearGate())
	result = table.Execute(context.Background(), plan, false, nil)
	assert.True(t, result.Success)
	assert.False(t, result.DryRun)
}

func TestExecuteRetriesOnceOnQuotaState(t *testing.T) {
	attempts := 0
	baseline := Stages{
		Execute: func(ctx context.Context, plan kernel.IterationPlan, progress chan<- ports.ProgressEvent) (kernel.ExecutionResult, error) {
			attempts++
			if attempts == 1 {
				return kernel.ExecutionResult{
					Success: false,
					Quota:   &kernel.QuotaState{Status: kernel.QuotaRateLimited},
				}, nil
			}
			return kernel.ExecutionResult{Success: true}, nil
		},
	}
	table := newTestTable(t, baseline)
	plan := kernel.IterationPlan{PromptText: "Add a unit test for the parser."}

	result := table.Execute(context.Background(), plan, false, nil)
	assert.True(t, result.Success)
	assert.Equal(t, 2, attempts)
}

func TestVerifyMergesExecutionIssueOnPriorFailure(t *testing.T) {
	baseline := Stages{
		Execute: func(ctx context.Context, plan kernel.IterationPlan, progress chan<- ports.ProgressEvent) (kernel.ExecutionResult, error) {
			return kernel.ExecutionResult{Success: false, ErrorsTail: "agent crashed"}, nil
		},
		Verify: func(ctx context.Context, pre, post kernel.ProjectState) (kernel.VerificationReport, error) {
			return kernel.VerificationReport{AllPassed: true}, nil
		},
	}
	table := newTestTable(t, baseline)
	table.Execute(context.Background(), kernel.IterationPlan{PromptText: "tweak a comment"}, false, nil)

	report := table.Verify(context.Background(), kernel.ProjectState{}, kernel.ProjectState{})
	assert.False(t, report.AllPassed)
	require.NotEmpty(t, report.Issues)
	assert.Contains(t, report.Issues[0], "EXECUTION")
}

func TestRecordPropagatesDuplicateErrorInsteadOfMasking(t *testing.T) {
	baseline := Stages{
		Record: func(ctx context.Context, iterationID string, plan kernel.IterationPlan, exec kernel.ExecutionResult, verification kernel.VerificationReport, elapsedSeconds float64) (kernel.RecordSummary, error) {
			return kernel.RecordSummary{ID: iterationID}, nil
		},
	}
	table := newTestTable(t, baseline)
	table.SetRecord(func(ctx context.Context, iterationID string, plan kernel.IterationPlan, exec kernel.ExecutionResult, verification kernel.VerificationReport, elapsedSeconds float64) (kernel.RecordSummary, error) {
		return kernel.RecordSummary{}, kernel.ErrDuplicateRecord
	})

	_, err := table.Record(context.Background(), "0001-20260301-120000", kernel.IterationPlan{}, kernel.ExecutionResult{}, kernel.VerificationReport{}, 1.0)
	assert.ErrorIs(t, err, kernel.ErrDuplicateRecord)
}
