package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima/anima/internal/kernel"
)

func sampleRecord(id string) kernel.IterationRecord {
	return kernel.IterationRecord{
		IterationID:  id,
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		GapAddressed: "fill in missing tests",
		Outcome:      kernel.OutcomeSuccess,
	}
}

func TestSaveRejectsDuplicateID(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	_, err := store.Save(ctx, sampleRecord("0001-20260301-120000"))
	require.NoError(t, err)

	_, err = store.Save(ctx, sampleRecord("0001-20260301-120000"))
	assert.ErrorIs(t, err, kernel.ErrDuplicateRecord)
}

func TestLoadRecentReturnsNewestFirst(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	ids := []string{"0001-20260301-120000", "0002-20260301-130000", "0003-20260301-140000"}
	for _, id := range ids {
		_, err := store.Save(ctx, sampleRecord(id))
		require.NoError(t, err)
	}

	recent, err := store.LoadRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "0003-20260301-140000", recent[0].IterationID)
	assert.Equal(t, "0002-20260301-130000", recent[1].IterationID)
}

func TestLoadAllRoundTripsFields(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	record := sampleRecord("0001-20260301-120000")
	record.Outcome = kernel.OutcomeRollback
	path, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.dir, "0001-20260301-120000.json"), path)

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, kernel.OutcomeRollback, all[0].Outcome)
	assert.True(t, all[0].Timestamp.Equal(record.Timestamp))
}

func TestLoadAllOnMissingDirectoryReturnsEmpty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "does-not-exist"))
	all, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
