// Package quality adapts configurable shell commands to
// ports.LinterPort and ports.TestRunnerPort, following the same
// os/exec-with-timeout shape as the vcs adapter. Commands are
// data-driven (one shell string per check) since the actual lint/
// typecheck/test tooling is project-specific and out of the kernel's
// scope.
package quality

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/anima/anima/internal/kernel"
)

// Runner executes a single shell command with a bounded timeout,
// rooted at Dir. A nil/empty Command means the tool is unconfigured.
type Runner struct {
	Dir     string
	Command string
	Timeout time.Duration
}

func (r Runner) run(ctx context.Context) (string, bool, error) {
	if strings.TrimSpace(r.Command) == "" {
		return "", false, kernel.ErrToolUnavailable
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", r.Command)
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if runCtx.Err() != nil {
		return out.String(), false, fmt.Errorf("%w: %s", kernel.ErrTimeout, r.Command)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return out.String(), false, nil
		}
		return out.String(), false, fmt.Errorf("%w: %s: %v", kernel.ErrToolUnavailable, r.Command, err)
	}
	return out.String(), true, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Linter runs configured lint/typecheck commands.
type Linter struct {
	Dir               string
	LintCommand       string
	TypecheckCommand  string
	LintTimeout       time.Duration
	TypecheckTimeout  time.Duration
}

// NewLinter builds a ports.LinterPort from cfg.
func NewLinter(dir, lintCmd, typecheckCmd string, lintTimeout, typecheckTimeout time.Duration) *Linter {
	return &Linter{
		Dir:              dir,
		LintCommand:      lintCmd,
		TypecheckCommand: typecheckCmd,
		LintTimeout:      lintTimeout,
		TypecheckTimeout: typecheckTimeout,
	}
}

// RunLint runs the configured lint command.
func (l *Linter) RunLint(ctx context.Context) (kernel.QualityCheckResult, error) {
	out, passed, err := (Runner{Dir: l.Dir, Command: l.LintCommand, Timeout: l.LintTimeout}).run(ctx)
	if err != nil {
		return kernel.QualityCheckResult{}, err
	}
	return kernel.QualityCheckResult{Passed: passed, Output: out}, nil
}

// RunTypecheck runs the configured typecheck command.
func (l *Linter) RunTypecheck(ctx context.Context) (kernel.QualityCheckResult, error) {
	out, passed, err := (Runner{Dir: l.Dir, Command: l.TypecheckCommand, Timeout: l.TypecheckTimeout}).run(ctx)
	if err != nil {
		return kernel.QualityCheckResult{}, err
	}
	return kernel.QualityCheckResult{Passed: passed, Output: out}, nil
}

// TestRunner runs the configured test command.
type TestRunner struct {
	Dir     string
	Command string
	Timeout time.Duration
}

// NewTestRunner builds a ports.TestRunnerPort from cfg.
func NewTestRunner(dir, command string, timeout time.Duration) *TestRunner {
	return &TestRunner{Dir: dir, Command: command, Timeout: timeout}
}

// RunTests runs the configured test command, reporting exit code -1 on
// timeout.
func (t *TestRunner) RunTests(ctx context.Context) (kernel.TestResult, error) {
	if strings.TrimSpace(t.Command) == "" {
		return kernel.TestResult{}, kernel.ErrToolUnavailable
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", t.Command)
	cmd.Dir = t.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if runCtx.Err() != nil {
		return kernel.TestResult{
			ExitCode:   -1,
			Passed:     false,
			StderrTail: tail(out.String(), 2000),
		}, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if ee, ok := err.(*exec.ExitError); ok {
			exitErr = ee
			exitCode = exitErr.ExitCode()
		} else {
			return kernel.TestResult{}, fmt.Errorf("%w: %v", kernel.ErrToolUnavailable, err)
		}
	}

	full := out.String()
	return kernel.TestResult{
		ExitCode:   exitCode,
		Passed:     exitCode == 0,
		StdoutTail: tail(full, 5000),
		StderrTail: tail(full, 2000),
	}, nil
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
