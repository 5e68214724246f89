// Package stages provides the baseline (seed) implementations of the
// six pipeline steps — scan, analyze, plan, execute, verify, record —
// that the dispatch table falls back to whenever no replacement is
// bound or a replacement errors. Grounded in spirit on BasePhase
// (internal/phase/base.go): small, logger-carrying,
// functional-option-configured structs exposing one operation each, but
// reshaped per step to match each pipeline stage's own contract instead
// of a shared Phase interface.
package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/internal/ports"
)

// defaultPruneDirs is the fixed set of directories scan never descends
// into.
var defaultPruneDirs = []string{
	".git", "__pycache__", "node_modules", "venv", ".venv",
	".pytest_cache", ".ruff_cache",
}

// ScanConfig wires the scan baseline to its dependencies.
type ScanConfig struct {
	FS         ports.FileSystemPort
	Linter     ports.LinterPort
	TestRunner ports.TestRunnerPort

	ModulesDir   string
	InboxDir     string
	DomainDir    string
	AdaptersDir  string
	KernelDir    string
	StateDir     string
	HistoryDir   string

	ProtectedPaths []string
	PruneDirs      []string
	TestSuffix     string // e.g. "_test.go"

	Logger *slog.Logger
}

// NewScan builds the baseline Scanner from cfg.
func NewScan(cfg ScanConfig) dispatch.Scanner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TestSuffix == "" {
		cfg.TestSuffix = "_test.go"
	}
	prune := append(append([]string(nil), defaultPruneDirs...), cfg.PruneDirs...)
	prune = append(prune, cfg.StateDir, cfg.HistoryDir)

	return func(ctx context.Context) (kernel.ProjectState, error) {
		entries, err := cfg.FS.ListFiles(ctx, ".", "")
		if err != nil {
			cfg.Logger.Warn("scan: listing files failed", "error", err)
			entries = nil
		}

		files := make([]string, 0, len(entries))
		for _, e := range entries {
			if isPruned(e.Path, prune) {
				continue
			}
			files = append(files, e.Path)
		}
		sort.Strings(files)

		state := kernel.ProjectState{
			Files:            files,
			Modules:          scanModules(ctx, cfg, files),
			DomainExists:     hasLayer(files, cfg.DomainDir),
			AdaptersExist:    hasLayer(files, cfg.AdaptersDir),
			KernelExists:     hasLayer(files, cfg.KernelDir),
			HasTests:         hasTestFile(files, cfg.TestSuffix),
			HasPyproject:     containsBaseName(files, "pyproject.toml"),
			HasPyrightConfig: containsBaseName(files, "pyrightconfig.json"),
			Inbox:            scanInbox(ctx, cfg),
			Quality:          scanQuality(ctx, cfg),
			Tests:            scanTests(ctx, cfg),
			ProtectedHashes:  scanProtectedHashes(ctx, cfg),
		}
		return state, nil
	}
}

func isPruned(filePath string, pruneDirs []string) bool {
	for _, part := range strings.Split(filePath, "/") {
		for _, pruned := range pruneDirs {
			pruned = strings.Trim(pruned, "/")
			if pruned != "" && part == pruned {
				return true
			}
		}
	}
	return false
}

func hasLayer(files []string, dir string) bool {
	if dir == "" {
		return false
	}
	prefix := strings.Trim(dir, "/") + "/"
	for _, f := range files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

func hasTestFile(files []string, suffix string) bool {
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			return true
		}
		if strings.HasPrefix(path.Base(f), "test_") {
			return true
		}
	}
	return false
}

func containsBaseName(files []string, name string) bool {
	for _, f := range files {
		if path.Base(f) == name {
			return true
		}
	}
	return false
}

func scanModules(ctx context.Context, cfg ScanConfig, allFiles []string) []kernel.ModuleInfo {
	if cfg.ModulesDir == "" {
		return nil
	}
	prefix := strings.Trim(cfg.ModulesDir, "/") + "/"

	byModule := make(map[string][]string)
	for _, f := range allFiles {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		rest := strings.TrimPrefix(f, prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		if name == "" {
			continue
		}
		byModule[name] = append(byModule[name], f)
	}

	names := make([]string, 0, len(byModule))
	for name := range byModule {
		names = append(names, name)
	}
	sort.Strings(names)

	modules := make([]kernel.ModuleInfo, 0, len(names))
	for _, name := range names {
		files := byModule[name]
		info := kernel.ModuleInfo{Name: name, Files: files}
		for _, f := range files {
			base := path.Base(f)
			switch {
			case strings.EqualFold(base, "CONTRACT.md"):
				info.HasContractDoc = true
			case strings.EqualFold(base, "SPEC.md"):
				info.HasSpecDoc = true
			case strings.Contains(f, "/core/") || strings.Contains(f, "/core."):
				info.HasCoreImpl = true
			case strings.Contains(f, "/tests/"):
				info.HasTestsDir = true
			}
		}
		modules = append(modules, info)
	}
	return modules
}

func scanInbox(ctx context.Context, cfg ScanConfig) []kernel.InboxItem {
	if cfg.InboxDir == "" {
		return nil
	}
	entries, err := cfg.FS.ListFiles(ctx, cfg.InboxDir, "*.md")
	if err != nil {
		cfg.Logger.Warn("scan: listing inbox failed", "error", err)
		return nil
	}

	items := make([]kernel.InboxItem, 0, len(entries))
	for _, e := range entries {
		content, err := cfg.FS.ReadFile(ctx, e.Path)
		if err != nil {
			cfg.Logger.Warn("scan: reading inbox item failed", "path", e.Path, "error", err)
			continue
		}
		items = append(items, kernel.InboxItem{Filename: path.Base(e.Path), Content: content})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Filename < items[j].Filename })
	return items
}

func scanQuality(ctx context.Context, cfg ScanConfig) *kernel.QualityReport {
	if cfg.Linter == nil {
		return nil
	}
	report := &kernel.QualityReport{}
	any := false

	if lint, err := cfg.Linter.RunLint(ctx); err == nil {
		r := lint
		report.Lint = &r
		any = true
	} else if !errors.Is(err, kernel.ErrToolUnavailable) {
		cfg.Logger.Warn("scan: lint failed", "error", err)
	}

	if tc, err := cfg.Linter.RunTypecheck(ctx); err == nil {
		r := tc
		report.Typecheck = &r
		any = true
	} else if !errors.Is(err, kernel.ErrToolUnavailable) {
		cfg.Logger.Warn("scan: typecheck failed", "error", err)
	}

	if !any {
		return nil
	}
	return report
}

func scanTests(ctx context.Context, cfg ScanConfig) *kernel.TestResult {
	if cfg.TestRunner == nil {
		return nil
	}
	result, err := cfg.TestRunner.RunTests(ctx)
	if err != nil {
		if !errors.Is(err, kernel.ErrToolUnavailable) {
			cfg.Logger.Warn("scan: running tests failed", "error", err)
		}
		return nil
	}
	return &result
}

func scanProtectedHashes(ctx context.Context, cfg ScanConfig) []kernel.ProtectedHash {
	var hashes []kernel.ProtectedHash
	for _, p := range cfg.ProtectedPaths {
		if strings.HasSuffix(p, "/") {
			entries, err := cfg.FS.ListFiles(ctx, p, "")
			if err != nil {
				continue
			}
			for _, e := range entries {
				hashes = append(hashes, hashFile(ctx, cfg, e.Path))
			}
			continue
		}
		hashes = append(hashes, hashFile(ctx, cfg, p))
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Path < hashes[j].Path })
	return hashes
}

func hashFile(ctx context.Context, cfg ScanConfig, p string) kernel.ProtectedHash {
	content, err := cfg.FS.ReadFile(ctx, p)
	if err != nil {
		return kernel.ProtectedHash{Path: p, Hash: nil}
	}
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])
	return kernel.ProtectedHash{Path: p, Hash: &hash}
}
