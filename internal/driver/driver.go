// Package driver implements the Iteration Driver: the orchestration
// loop that reads state, dispatches the six pipeline stages through the
// dispatch table, commits or rolls back the working tree, and persists
// the resulting AnimaState. Grounded on Orchestrator
// (internal/core/orchestrator.go) for its constructor/functional-option
// shape and its session-scoped logging, generalized from its "run
// phases in sequence, checkpoint between them" loop to a fixed
// scan→analyze→plan→snapshot→execute→scan→verify→record→
// commit-or-rollback ordering.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/history"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
	"github.com/anima/anima/internal/stages"
	"github.com/anima/anima/internal/state"
)

// Config bundles the driver's tunable knobs.
type Config struct {
	MaxConsecutiveFailures int
	IterationCooldown      time.Duration
	RoadmapDir             string
	VisionPath             string
	DryRun                 bool
}

// Driver orchestrates iterations against a Table and its supporting
// ports/stores. One Driver instance corresponds to one exclusive lock
// holder over one working tree: no distributed or cross-process
// coordination is attempted.
type Driver struct {
	Table   *dispatch.Table
	FS      ports.FileSystemPort
	VCS     ports.VersionControlPort
	State   *state.Store
	History *history.Store
	Config  Config
	Logger  *slog.Logger

	// Progress receives streamed agent output during execute; nil
	// disables streaming entirely (the execute adapter tolerates both).
	Progress chan<- ports.ProgressEvent
}

// Outcome summarizes what RunOnce did, for the CLI front-end and tests.
type Outcome struct {
	Ran          bool // false on NO_GAPS or a paused refusal; a gated or dry-run execute reports true with Reason "dry_run"
	Reason       string
	Record       *kernel.RecordSummary
	StateAfter   kernel.AnimaState
}

var errPaused = errors.New("driver refuses to start: status is paused")

// RunOnce executes a single iteration of the six-stage pipeline,
// persisting AnimaState before every non-error return. Error returns,
// the paused refusal included, leave the persisted state untouched.
func (d *Driver) RunOnce(ctx context.Context) (Outcome, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := uuid.New().String()
	logger = logger.With("session", sessionID)

	st, err := d.State.Load(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading state: %w", err)
	}
	if st.Status == kernel.StatusPaused {
		return Outcome{StateAfter: st}, errPaused
	}

	start := time.Now()

	preState := d.Table.Scan(ctx)

	vision := d.loadVision(ctx, logger)
	history, err := d.History.LoadAll(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading history: %w", err)
	}

	gapsText := d.Table.Analyze(ctx, vision, preState, history)
	if gapsText == "NO_GAPS" {
		logger.Info("iteration: no gaps found, sleeping")
		st.Status = kernel.StatusSleep
		if err := d.State.Save(ctx, st); err != nil {
			return Outcome{}, fmt.Errorf("persisting state: %w", err)
		}
		return Outcome{Ran: false, Reason: "NO_GAPS", StateAfter: st}, nil
	}

	// Only a genuine gap increments iteration_count: NO_GAPS above
	// returns before this point.
	st.IterationCount++
	iterationID := formatIterationID(st.IterationCount, start)
	logger = logger.With("iteration_id", iterationID)

	plan := d.Table.Plan(ctx, preState, gapsText, history, st.IterationCount)
	plan.IterationID = iterationID

	snapshotRef, err := d.VCS.CreateSnapshot(ctx, "pre-iteration snapshot "+iterationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("creating pre-iteration snapshot: %w", err)
	}

	execResult := d.Table.Execute(ctx, plan, d.Config.DryRun, d.Progress)
	if execResult.DryRun {
		logger.Info("iteration: dry run complete, skipping verify/record", "output", execResult.OutputTail)
		if err := d.State.Save(ctx, st); err != nil {
			return Outcome{}, fmt.Errorf("persisting state: %w", err)
		}
		return Outcome{Ran: true, Reason: "dry_run", StateAfter: st}, nil
	}

	postState := d.Table.Scan(ctx)
	verification := d.Table.Verify(ctx, preState, postState)

	elapsed := time.Since(start).Seconds()
	summary, err := d.Table.Record(ctx, iterationID, plan, execResult, verification, elapsed)
	if err != nil {
		return Outcome{}, fmt.Errorf("recording iteration: %w", err)
	}

	st.CumulativeCostUSD += execResult.CostUSD
	st.CumulativeTokens += execResult.TotalTokens
	st.CumulativeSeconds += elapsed

	if verification.AllPassed {
		logger.Info("iteration: verification passed, committing", "summary", summary.Summary)
		pushed, err := d.VCS.CommitAndPush(ctx, summary.Summary)
		if err != nil {
			return Outcome{}, fmt.Errorf("committing iteration: %w", err)
		}
		if !pushed {
			summary.Summary += " (push failed; local commit stands)"
		}
		st.ConsecutiveFailures = 0
		st.CompletedItems = append(st.CompletedItems, summary.Improvements...)
		d.tagIfAdvanced(ctx, &st, logger)
	} else {
		logger.Warn("iteration: verification failed, rolling back", "issues", verification.Issues)
		if err := d.VCS.RollbackTo(ctx, snapshotRef); err != nil {
			return Outcome{}, fmt.Errorf("rolling back: %w", err)
		}
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures >= d.maxConsecutiveFailures() {
			logger.Error("iteration: consecutive failure threshold reached, pausing", "failures", st.ConsecutiveFailures)
			st.Status = kernel.StatusPaused
		}
	}

	st.LastIterationID = summary.ID
	if st.Status != kernel.StatusPaused {
		st.Status = kernel.StatusAlive
	}
	if err := d.State.Save(ctx, st); err != nil {
		return Outcome{}, fmt.Errorf("persisting state: %w", err)
	}

	return Outcome{Ran: true, Record: &summary, StateAfter: st}, nil
}

func (d *Driver) maxConsecutiveFailures() int {
	if d.Config.MaxConsecutiveFailures <= 0 {
		return 3
	}
	return d.Config.MaxConsecutiveFailures
}

func formatIterationID(n int, t time.Time) string {
	return fmt.Sprintf("%04d-%s", n, t.UTC().Format("20060102-150405"))
}

func (d *Driver) loadVision(ctx context.Context, logger *slog.Logger) kernel.Vision {
	if d.FS == nil || d.Config.VisionPath == "" {
		return kernel.Vision{}
	}
	content, err := d.FS.ReadFile(ctx, d.Config.VisionPath)
	if err != nil {
		if !errors.Is(err, kernel.ErrNotFound) {
			logger.Warn("driver: reading vision document failed", "error", err)
		}
		return kernel.Vision{}
	}
	return kernel.Vision{Identity: content}
}

// tagIfAdvanced re-derives the roadmap's target/achieved split and tags
// a milestone when the achieved version strictly advances past the
// stored CurrentMilestone; milestones never downgrade.
func (d *Driver) tagIfAdvanced(ctx context.Context, st *kernel.AnimaState, logger *slog.Logger) {
	status := stages.Milestones(ctx, d.FS, d.Config.RoadmapDir, logger)
	if status.Achieved == "" || status.Achieved == st.CurrentMilestone {
		return
	}
	if !isAdvance(status.Achieved, st.CurrentMilestone) {
		return
	}

	created, err := d.VCS.TagMilestone(ctx, status.Achieved)
	if err != nil {
		logger.Warn("driver: tagging milestone failed", "milestone", status.Achieved, "error", err)
		return
	}
	if created {
		logger.Info("driver: tagged milestone", "milestone", status.Achieved)
	}
	st.CurrentMilestone = status.Achieved
}

// isAdvance reports whether candidate is strictly greater than current.
// Roadmap version labels are derived from sorted filenames (e.g.
// "0001-foundations", "0002-api"), so lexicographic comparison matches
// their intended ordering; an empty current milestone is always behind.
func isAdvance(candidate, current string) bool {
	if current == "" {
		return true
	}
	return candidate > current
}
