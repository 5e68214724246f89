package stages

import (
	"context"
	"testing"

	"github.com/anima/anima/internal/kernel"
)

func planTargeting(files ...string) kernel.IterationPlan {
	return kernel.IterationPlan{
		Actions: []kernel.PlannedAction{
			{Description: "do something", TargetFiles: files},
		},
	}
}

func TestNewExecuteRefusesProtectedPlanTarget(t *testing.T) {
	agent := &fakeAgent{result: kernel.ExecutionResult{Success: true}}
	exec := NewExecute(ExecuteConfig{
		Agent:          agent,
		ProtectedPaths: []string{"internal/kernel"},
	})

	result, err := exec(context.Background(), planTargeting("internal/kernel/types.go"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for a plan targeting a protected path")
	}
}

func TestNewExecuteFailsWhenAgentReportsProtectedFileChanged(t *testing.T) {
	agent := &fakeAgent{result: kernel.ExecutionResult{
		Success:      true,
		FilesChanged: []string{"internal/stages/plan.go", "internal/kernel/errors.go"},
	}}
	exec := NewExecute(ExecuteConfig{
		Agent:          agent,
		ProtectedPaths: []string{"internal/kernel"},
	})

	result, err := exec(context.Background(), planTargeting("internal/stages/plan.go"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected the self-reported protected-path touch to flip success to false")
	}
	if result.ErrorsTail == "" {
		t.Fatal("expected ErrorsTail to explain the failure")
	}
}

func TestNewExecutePassesWhenNoProtectedFileTouched(t *testing.T) {
	agent := &fakeAgent{result: kernel.ExecutionResult{
		Success:      true,
		FilesChanged: []string{"internal/stages/plan.go"},
	}}
	exec := NewExecute(ExecuteConfig{
		Agent:          agent,
		ProtectedPaths: []string{"internal/kernel"},
	})

	result, err := exec(context.Background(), planTargeting("internal/stages/plan.go"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got failure: %s", result.ErrorsTail)
	}
}

func TestNewExecuteDryRunSkipsAgentAndProtectedFileCheck(t *testing.T) {
	agent := &fakeAgent{result: kernel.ExecutionResult{Success: false}}
	exec := NewExecute(ExecuteConfig{
		Agent:          agent,
		ProtectedPaths: []string{"internal/kernel"},
		DryRun:         true,
	})

	result, err := exec(context.Background(), planTargeting("internal/stages/plan.go"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || !result.DryRun {
		t.Fatalf("expected a successful dry run without invoking the agent, got %+v", result)
	}
}
