package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/kernel"
)

func TestScanPrunesFixedDirectoriesAndSorts(t *testing.T) {
	fsys := newMemFS()
	fsys.files["b.go"] = "package b"
	fsys.files["a.go"] = "package a"
	fsys.files["node_modules/pkg/index.js"] = "ignored"
	fsys.files[".git/HEAD"] = "ignored"

	scan := NewScan(ScanConfig{FS: fsys})
	state, err := scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, state.Files)
}

func TestScanDetectsLayersAndTests(t *testing.T) {
	fsys := newMemFS()
	fsys.files["internal/kernel/types.go"] = "package kernel"
	fsys.files["internal/adapters/fs/fs.go"] = "package fs"
	fsys.files["internal/domain/model.go"] = "package domain"
	fsys.files["internal/kernel/types_test.go"] = "package kernel"

	scan := NewScan(ScanConfig{
		FS:          fsys,
		DomainDir:   "internal/domain",
		AdaptersDir: "internal/adapters",
		KernelDir:   "internal/kernel",
	})
	state, err := scan(context.Background())
	require.NoError(t, err)
	assert.True(t, state.DomainExists)
	assert.True(t, state.AdaptersExist)
	assert.True(t, state.KernelExists)
	assert.True(t, state.HasTests)
}

func TestScanBuildsModuleInfo(t *testing.T) {
	fsys := newMemFS()
	fsys.files["modules/billing/CONTRACT.md"] = "contract"
	fsys.files["modules/billing/SPEC.md"] = "spec"
	fsys.files["modules/billing/core/billing.go"] = "package core"
	fsys.files["modules/billing/tests/billing_test.go"] = "package tests"
	fsys.files["modules/shipping/core/shipping.go"] = "package core"

	scan := NewScan(ScanConfig{FS: fsys, ModulesDir: "modules"})
	state, err := scan(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Modules, 2)

	billing := state.Modules[0]
	assert.Equal(t, "billing", billing.Name)
	assert.True(t, billing.HasContractDoc)
	assert.True(t, billing.HasSpecDoc)
	assert.True(t, billing.HasCoreImpl)
	assert.True(t, billing.HasTestsDir)

	shipping := state.Modules[1]
	assert.Equal(t, "shipping", shipping.Name)
	assert.False(t, shipping.HasContractDoc)
}

func TestScanReadsInboxItemsSorted(t *testing.T) {
	fsys := newMemFS()
	fsys.files["inbox/b-request.md"] = "do B"
	fsys.files["inbox/a-request.md"] = "do A"
	fsys.files["inbox/notes.txt"] = "ignored, not markdown"

	scan := NewScan(ScanConfig{FS: fsys, InboxDir: "inbox"})
	state, err := scan(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Inbox, 2)
	assert.Equal(t, "a-request.md", state.Inbox[0].Filename)
	assert.Equal(t, "do A", state.Inbox[0].Content)
}

func TestScanQualityUnavailableYieldsNilSubfield(t *testing.T) {
	fsys := newMemFS()
	linter := &fakeLinter{lintErr: kernel.ErrToolUnavailable, typecheckErr: kernel.ErrToolUnavailable}

	scan := NewScan(ScanConfig{FS: fsys, Linter: linter})
	state, err := scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state.Quality)
}

func TestScanQualityPopulatedWhenAvailable(t *testing.T) {
	fsys := newMemFS()
	linter := &fakeLinter{
		lint:         kernel.QualityCheckResult{Passed: false, Output: "unused variable"},
		typecheckErr: kernel.ErrToolUnavailable,
	}

	scan := NewScan(ScanConfig{FS: fsys, Linter: linter})
	state, err := scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state.Quality)
	require.NotNil(t, state.Quality.Lint)
	assert.False(t, state.Quality.Lint.Passed)
	assert.Nil(t, state.Quality.Typecheck)
}

func TestScanComputesProtectedHashes(t *testing.T) {
	fsys := newMemFS()
	fsys.files["VISION.md"] = "the vision"

	scan := NewScan(ScanConfig{FS: fsys, ProtectedPaths: []string{"VISION.md", "missing.md"}})
	state, err := scan(context.Background())
	require.NoError(t, err)
	require.Len(t, state.ProtectedHashes, 2)

	byPath := map[string]*string{}
	for _, h := range state.ProtectedHashes {
		byPath[h.Path] = h.Hash
	}
	require.NotNil(t, byPath["VISION.md"])
	assert.Nil(t, byPath["missing.md"])
}
