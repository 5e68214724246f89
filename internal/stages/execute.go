package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
)

// ExecuteConfig wires the execute baseline to its dependencies.
type ExecuteConfig struct {
	Agent          ports.AgentPort
	FS             ports.FileSystemPort
	ProtectedPaths []string
	PromptDebugPath string
	DryRun         bool
}

// NewExecute builds the baseline Executor from cfg.
//
// Protected-path enforcement happens at three points, earliest first:
// this stage refuses to invoke the agent at all when the plan itself
// names a protected target file; once the agent returns, this stage
// also checks its self-reported FilesChanged against the same list and
// fails immediately if any of them touch a protected path, without
// waiting for a scan/verify pass; verify's pre/post hash comparison
// then catches any remaining tampering the agent didn't self-report.
func NewExecute(cfg ExecuteConfig) dispatch.Executor {
	return func(ctx context.Context, plan kernel.IterationPlan, progress chan<- ports.ProgressEvent) (kernel.ExecutionResult, error) {
		if cfg.FS != nil && cfg.PromptDebugPath != "" {
			_ = cfg.FS.WriteFile(ctx, cfg.PromptDebugPath, plan.PromptText)
		}

		if violation := firstProtectedTarget(plan.Actions, cfg.ProtectedPaths); violation != "" {
			return kernel.ExecutionResult{
				Success:    false,
				ErrorsTail: fmt.Sprintf("refusing to execute: planned action targets protected path %q", violation),
			}, nil
		}

		if cfg.DryRun {
			return kernel.ExecutionResult{Success: true, DryRun: true, OutputTail: "dry run: prompt persisted, agent not invoked"}, nil
		}

		result := cfg.Agent.Execute(ctx, plan.PromptText, progress)
		if result.Success {
			if violation := firstProtectedPath(result.FilesChanged, cfg.ProtectedPaths); violation != "" {
				result.Success = false
				result.ErrorsTail = fmt.Sprintf("agent reported changing protected path %q", violation)
			}
		}
		return result, nil
	}
}

func firstProtectedTarget(actions []kernel.PlannedAction, protectedPaths []string) string {
	for _, action := range actions {
		for _, target := range action.TargetFiles {
			if isProtected(target, protectedPaths) {
				return target
			}
		}
	}
	return ""
}

func firstProtectedPath(paths []string, protectedPaths []string) string {
	for _, p := range paths {
		if isProtected(p, protectedPaths) {
			return p
		}
	}
	return ""
}

func isProtected(path string, protectedPaths []string) bool {
	for _, p := range protectedPaths {
		p = strings.TrimSuffix(p, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
