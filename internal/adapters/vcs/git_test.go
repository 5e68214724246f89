package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestCreateSnapshotAndRollback(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, nil)
	ctx := context.Background()

	base, err := g.CurrentCommit(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	snap, err := g.CreateSnapshot(ctx, "pre-iteration snapshot")
	require.NoError(t, err)
	assert.NotEqual(t, base, snap)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0o644))

	require.NoError(t, g.RollbackTo(ctx, snap))
	_, err = os.Stat(filepath.Join(dir, "b.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "a.txt"))
	assert.NoError(t, err)
}

func TestTagMilestoneIsIdempotent(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, nil)
	ctx := context.Background()

	created, err := g.TagMilestone(ctx, "v0.1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = g.TagMilestone(ctx, "v0.1")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestHasUncommittedChanges(t *testing.T) {
	dir := initRepo(t)
	g := New(dir, nil)
	ctx := context.Background()

	dirty, err := g.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("z"), 0o644))
	dirty, err = g.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
}
