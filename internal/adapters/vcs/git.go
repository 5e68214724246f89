// Package vcs adapts the local git binary to ports.VersionControlPort,
// shelling out via os/exec the way pkg/plugin/loader.go invokes
// external processes, but scoped to a fixed set of git subcommands
// rather than arbitrary plugin binaries.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Git is a ports.VersionControlPort backed by the git CLI, operating on
// the repository rooted at Dir.
type Git struct {
	dir    string
	logger *slog.Logger
}

// New creates a Git adapter rooted at dir.
func New(dir string, logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{dir: dir, logger: logger}
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentCommit returns the full SHA of HEAD.
func (g *Git) CurrentCommit(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// CurrentBranch returns the current branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CreateSnapshot stages everything and commits, returning the new
// commit id. It is the canonical rollback point taken before execute.
func (g *Git) CreateSnapshot(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return "", fmt.Errorf("staging snapshot: %w", err)
	}

	if _, err := g.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		// Nothing staged: allow an empty commit so there is always a
		// rollback point even when the tree was already clean.
		if _, err := g.run(ctx, "commit", "--allow-empty", "-m", message); err != nil {
			return "", fmt.Errorf("committing empty snapshot: %w", err)
		}
	} else if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("committing snapshot: %w", err)
	}

	return g.CurrentCommit(ctx)
}

// CommitAndPush stages everything, commits, and attempts a push.
// A push failure does not fail the call: pushed is false and err is
// nil, since the local commit is the unit of progress and push is
// treated as best-effort.
func (g *Git) CommitAndPush(ctx context.Context, message string) (bool, error) {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("staging commit: %w", err)
	}

	if _, err := g.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		g.logger.Debug("commit_and_push: nothing to commit")
	} else if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("committing: %w", err)
	}

	if _, err := g.run(ctx, "push"); err != nil {
		g.logger.Warn("commit_and_push: push failed, local commit stands", "error", err)
		return false, nil
	}
	return true, nil
}

// RollbackTo hard-resets the working tree to commitID, discarding
// everything the iteration attempted.
func (g *Git) RollbackTo(ctx context.Context, commitID string) error {
	if _, err := g.run(ctx, "reset", "--hard", commitID); err != nil {
		return fmt.Errorf("rolling back to %s: %w", commitID, err)
	}
	if _, err := g.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("cleaning untracked files after rollback: %w", err)
	}
	return nil
}

// TagMilestone creates an annotated tag for label. It is idempotent:
// created is false, err is nil when the tag already exists.
func (g *Git) TagMilestone(ctx context.Context, label string) (bool, error) {
	if _, err := g.run(ctx, "rev-parse", label); err == nil {
		return false, nil
	}
	if _, err := g.run(ctx, "tag", "-a", label, "-m", "milestone: "+label); err != nil {
		return false, fmt.Errorf("tagging milestone %s: %w", label, err)
	}
	return true, nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (g *Git) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("checking status: %w", err)
	}
	return out != "", nil
}

// DiffSummary lists tracked and untracked paths that differ from HEAD.
func (g *Git) DiffSummary(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("diffing summary: %w", err)
	}
	if out == "" {
		return nil, nil
	}

	lines := strings.Split(out, "\n")
	paths := make([]string, 0, len(lines))
	for _, line := range lines {
		// run() trims the whole output, so the first line may have lost
		// the leading space of its two-column status code; the path
		// starts at column 2 or 3 and TrimSpace absorbs the difference.
		if len(line) < 3 {
			continue
		}
		paths = append(paths, strings.TrimSpace(line[2:]))
	}
	return paths, nil
}
