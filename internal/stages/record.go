package stages

import (
	"context"
	"time"

	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/history"
	"github.com/anima/anima/internal/kernel"
)

const (
	maxGapAddressed       = 1000
	maxAgentOutputExcerpt = 1000
)

// RecordConfig wires the record baseline to the history store.
type RecordConfig struct {
	History *history.Store
}

// NewRecord builds the baseline Recorder from cfg.
func NewRecord(cfg RecordConfig) dispatch.Recorder {
	return func(ctx context.Context, iterationID string, plan kernel.IterationPlan, exec kernel.ExecutionResult, verification kernel.VerificationReport, elapsedSeconds float64) (kernel.RecordSummary, error) {
		outcome := kernel.OutcomeFailure
		if verification.AllPassed {
			outcome = kernel.OutcomeSuccess
		}

		record := kernel.IterationRecord{
			IterationID:        iterationID,
			Timestamp:          time.Now().UTC(),
			GapAddressed:       truncate(plan.SelectedGap.Description, maxGapAddressed),
			Plan:               plan,
			Execution:          exec,
			Verification:       verification,
			Outcome:            outcome,
			DurationSeconds:    elapsedSeconds,
			AgentOutputExcerpt: truncate(exec.OutputTail, maxAgentOutputExcerpt),
		}

		path, err := cfg.History.Save(ctx, record)
		if err != nil {
			return kernel.RecordSummary{}, err
		}

		return kernel.RecordSummary{
			ID:             record.IterationID,
			Timestamp:      record.Timestamp,
			Success:        outcome == kernel.OutcomeSuccess,
			Summary:        verification.Summary,
			Improvements:   verification.Improvements,
			Issues:         verification.Issues,
			CostUSD:        exec.CostUSD,
			TotalTokens:    exec.TotalTokens,
			ElapsedSeconds: elapsedSeconds,
			FilePath:       path,
		}, nil
	}
}
