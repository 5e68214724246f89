// Package fs adapts the local filesystem to ports.FileSystemPort,
// grounded on the sandboxed FileSystem in internal/storage/
// filesystem.go: every path is cleaned, rejected if it tries to escape
// the project root, and joined against a fixed base directory before
// any os call.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
)

// FileSystem is a ports.FileSystemPort rooted at baseDir.
type FileSystem struct {
	baseDir string
}

// New creates a FileSystem sandboxed to baseDir.
func New(baseDir string) *FileSystem {
	return &FileSystem{baseDir: filepath.Clean(baseDir)}
}

func (f *FileSystem) sanitize(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path: contains parent directory reference: %s", path)
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid path: absolute paths not allowed: %s", path)
	}

	full := filepath.Join(f.baseDir, cleaned)
	if !strings.HasPrefix(full, f.baseDir+string(filepath.Separator)) && full != f.baseDir {
		return "", fmt.Errorf("invalid path: escapes base directory: %s", path)
	}
	return full, nil
}

// ReadFile returns a path's content, or kernel.ErrNotFound if missing.
func (f *FileSystem) ReadFile(ctx context.Context, path string) (string, error) {
	full, err := f.sanitize(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", kernel.ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile writes content to path, creating parent directories.
func (f *FileSystem) WriteFile(ctx context.Context, path string, content string) error {
	full, err := f.sanitize(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ListFiles recursively lists every regular file under root (relative
// to baseDir), sorted, filtered by glob against the file's base name
// when glob is non-empty.
func (f *FileSystem) ListFiles(ctx context.Context, root string, glob string) ([]ports.FileEntry, error) {
	full, err := f.sanitize(root)
	if err != nil {
		return nil, err
	}

	var entries []ports.FileEntry
	err = filepath.Walk(full, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if glob != "" {
			matched, matchErr := filepath.Match(glob, info.Name())
			if matchErr != nil {
				return matchErr
			}
			if !matched {
				return nil
			}
		}

		rel, relErr := filepath.Rel(f.baseDir, path)
		if relErr != nil {
			return relErr
		}
		entries = append(entries, ports.FileEntry{
			Path:  filepath.ToSlash(rel),
			Size:  info.Size(),
			MTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// FileExists reports whether path exists within the sandbox.
func (f *FileSystem) FileExists(ctx context.Context, path string) bool {
	full, err := f.sanitize(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// DeleteFile removes path.
func (f *FileSystem) DeleteFile(ctx context.Context, path string) error {
	full, err := f.sanitize(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", kernel.ErrNotFound, path)
		}
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// MakeDirectory creates path and any missing parents.
func (f *FileSystem) MakeDirectory(ctx context.Context, path string) error {
	full, err := f.sanitize(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}
