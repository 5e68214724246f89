package stages

import (
	"context"
	"sort"
	"strings"

	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
)

// memFS is a tiny in-memory ports.FileSystemPort fake for stage tests.
type memFS struct {
	files map[string]string
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string]string)}
}

func (m *memFS) ReadFile(ctx context.Context, path string) (string, error) {
	content, ok := m.files[path]
	if !ok {
		return "", kernel.ErrNotFound
	}
	return content, nil
}

func (m *memFS) WriteFile(ctx context.Context, path string, content string) error {
	m.files[path] = content
	return nil
}

func (m *memFS) ListFiles(ctx context.Context, root string, glob string) ([]ports.FileEntry, error) {
	root = strings.TrimPrefix(root, "./")
	root = strings.TrimSuffix(root, "/")

	var entries []ports.FileEntry
	for path := range m.files {
		if root != "." && root != "" && !strings.HasPrefix(path, root+"/") {
			continue
		}
		if glob != "" {
			base := path
			if idx := strings.LastIndex(path, "/"); idx >= 0 {
				base = path[idx+1:]
			}
			matched, _ := pathMatch(glob, base)
			if !matched {
				continue
			}
		}
		entries = append(entries, ports.FileEntry{Path: path})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func pathMatch(pattern, name string) (bool, error) {
	if !strings.HasPrefix(pattern, "*") {
		return pattern == name, nil
	}
	return strings.HasSuffix(name, strings.TrimPrefix(pattern, "*")), nil
}

func (m *memFS) FileExists(ctx context.Context, path string) bool {
	_, ok := m.files[path]
	return ok
}

func (m *memFS) DeleteFile(ctx context.Context, path string) error {
	delete(m.files, path)
	return nil
}

func (m *memFS) MakeDirectory(ctx context.Context, path string) error {
	return nil
}

// fakeLinter returns canned results, or kernel.ErrToolUnavailable.
type fakeLinter struct {
	lint          kernel.QualityCheckResult
	lintErr       error
	typecheck     kernel.QualityCheckResult
	typecheckErr  error
}

func (f *fakeLinter) RunLint(ctx context.Context) (kernel.QualityCheckResult, error) {
	return f.lint, f.lintErr
}

func (f *fakeLinter) RunTypecheck(ctx context.Context) (kernel.QualityCheckResult, error) {
	return f.typecheck, f.typecheckErr
}

// fakeTestRunner returns a canned TestResult or error.
type fakeTestRunner struct {
	result kernel.TestResult
	err    error
}

func (f *fakeTestRunner) RunTests(ctx context.Context) (kernel.TestResult, error) {
	return f.result, f.err
}

// fakeAgent returns a canned ExecutionResult.
type fakeAgent struct {
	result kernel.ExecutionResult
}

func (f *fakeAgent) Execute(ctx context.Context, prompt string, progress chan<- ports.ProgressEvent) kernel.ExecutionResult {
	return f.result
}
