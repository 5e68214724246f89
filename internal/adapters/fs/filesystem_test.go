package fs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/kernel"
)

func TestWriteThenReadFileRoundTrips(t *testing.T) {
	f := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "nested/dir/file.txt", "hello"))
	content, err := f.ReadFile(ctx, "nested/dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestReadFileMissingReturnsNotFound(t *testing.T) {
	f := New(t.TempDir())
	_, err := f.ReadFile(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, kernel.ErrNotFound)
}

func TestSanitizeRejectsTraversal(t *testing.T) {
	f := New(t.TempDir())
	ctx := context.Background()

	_, err := f.ReadFile(ctx, "../escape.txt")
	assert.Error(t, err)

	err = f.WriteFile(ctx, "../../escape.txt", "x")
	assert.Error(t, err)
}

func TestListFilesWalksRecursivelyAndSorts(t *testing.T) {
	f := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, "b/two.go", "b"))
	require.NoError(t, f.WriteFile(ctx, "a/one.go", "a"))
	require.NoError(t, f.WriteFile(ctx, "a/note.md", "n"))

	entries, err := f.ListFiles(ctx, ".", "")
	require.NoError(t, err)
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	assert.Equal(t, []string{"a/note.md", "a/one.go", "b/two.go"}, paths)
}

func TestListFilesAppliesGlob(t *testing.T) {
	f := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, f.WriteFile(ctx, "x.go", "x"))
	require.NoError(t, f.WriteFile(ctx, "x.md", "x"))

	entries, err := f.ListFiles(ctx, ".", "*.go")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.go", entries[0].Path)
}

func TestFileExistsAndDeleteFile(t *testing.T) {
	f := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, f.WriteFile(ctx, "f.txt", "v"))
	assert.True(t, f.FileExists(ctx, "f.txt"))

	require.NoError(t, f.DeleteFile(ctx, "f.txt"))
	assert.False(t, f.FileExists(ctx, "f.txt"))

	err := f.DeleteFile(ctx, "f.txt")
	assert.True(t, errors.Is(err, kernel.ErrNotFound))
}

func TestMakeDirectory(t *testing.T) {
	f := New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, f.MakeDirectory(ctx, "a/b/c"))
	assert.True(t, f.FileExists(ctx, filepath.Join("a", "b", "c")))
}
