package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/lock"
)

// LoopOptions configures RunLoop's stop conditions.
type LoopOptions struct {
	Once     bool // run exactly one iteration regardless of outcome, then stop
	MaxCount int  // 0 = unbounded
	LockPath string
}

// LoopResult summarizes why RunLoop stopped.
type LoopResult struct {
	IterationsRun int
	StopReason    string // "max_count" | "paused" | "sleep" | "interrupted" | "once"
}

// RunLoop acquires the process-exclusive lock, then repeats RunOnce with
// Config.IterationCooldown between attempts until one of: the max
// iteration count is reached, status transitions to paused or sleep, the
// context is cancelled (external interrupt), or Once is set. The lock is
// released on every exit path.
func (d *Driver) RunLoop(ctx context.Context, opts LoopOptions) (LoopResult, error) {
	l, err := lock.Acquire(opts.LockPath)
	if err != nil {
		return LoopResult{}, fmt.Errorf("acquiring driver lock: %w", err)
	}
	defer l.Release()

	result := LoopResult{}
	for {
		select {
		case <-ctx.Done():
			result.StopReason = "interrupted"
			return result, nil
		default:
		}

		outcome, err := d.RunOnce(ctx)
		if err != nil {
			return result, err
		}
		result.IterationsRun++

		if opts.Once {
			result.StopReason = "once"
			return result, nil
		}
		if outcome.StateAfter.Status == kernel.StatusPaused {
			result.StopReason = "paused"
			return result, nil
		}
		if outcome.Reason == "NO_GAPS" {
			result.StopReason = "sleep"
			return result, nil
		}
		if opts.MaxCount > 0 && result.IterationsRun >= opts.MaxCount {
			result.StopReason = "max_count"
			return result, nil
		}

		cooldown := d.Config.IterationCooldown
		if cooldown <= 0 {
			cooldown = 10 * time.Second
		}
		select {
		case <-ctx.Done():
			result.StopReason = "interrupted"
			return result, nil
		case <-time.After(cooldown):
		}
	}
}
