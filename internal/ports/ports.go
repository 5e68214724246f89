// Package ports declares the abstract contracts the iteration kernel
// depends on. Concrete adapters (internal/adapters/...) implement them;
// the kernel never imports an adapter package directly, matching the
// Storage/Agent interface split in internal/core/interfaces.go.
package ports

import (
	"context"

	"github.com/anima/anima/internal/kernel"
)

// FileEntry is one result row from FileSystemPort.ListFiles.
type FileEntry struct {
	Path  string
	Size  int64
	MTime int64
}

// FileSystemPort abstracts file access. Adapters must return
// kernel.ErrNotFound (or a wrapping error satisfying errors.Is) when
// ReadFile targets a missing path.
type FileSystemPort interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path string, content string) error
	ListFiles(ctx context.Context, root string, glob string) ([]FileEntry, error)
	FileExists(ctx context.Context, path string) bool
	DeleteFile(ctx context.Context, path string) error
	MakeDirectory(ctx context.Context, path string) error
}

// VersionControlPort abstracts the VCS lifecycle: snapshot before
// execute, commit or rollback after verify, milestone tagging on
// advance.
type VersionControlPort interface {
	CurrentCommit(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	CreateSnapshot(ctx context.Context, message string) (string, error)
	CommitAndPush(ctx context.Context, message string) (pushed bool, err error)
	RollbackTo(ctx context.Context, commitID string) error
	TagMilestone(ctx context.Context, label string) (created bool, err error)
	HasUncommittedChanges(ctx context.Context) (bool, error)
	DiffSummary(ctx context.Context) ([]string, error)
}

// LinterPort abstracts lint/typecheck tooling. Adapters return
// kernel.ErrToolUnavailable when the underlying binary is missing.
type LinterPort interface {
	RunLint(ctx context.Context) (kernel.QualityCheckResult, error)
	RunTypecheck(ctx context.Context) (kernel.QualityCheckResult, error)
}

// TestRunnerPort abstracts the project's test suite.
type TestRunnerPort interface {
	RunTests(ctx context.Context) (kernel.TestResult, error)
}

// ProgressEvent is one streamed unit of agent output, surfaced to a
// caller-supplied channel so the kernel never buffers a whole response
// before the caller can observe partial progress.
type ProgressEvent struct {
	Text    string
	ToolUse string
}

// AgentPort abstracts the external AI coding agent subprocess. Execute
// must never panic or return a Go error for agent-side failures — every
// failure mode (missing binary, timeout, non-zero exit, quota limit) is
// encoded into the returned ExecutionResult, including the agent's own
// account of which files it touched (ExecutionResult.FilesChanged),
// which the caller checks against protected paths.
type AgentPort interface {
	Execute(ctx context.Context, prompt string, progress chan<- ProgressEvent) kernel.ExecutionResult
}
