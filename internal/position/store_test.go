// =================================
// File: internal/position/store_test.go
// =================================
package position

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func samplePosition(mint string, status Status) *Position {
	now := time.Now().UTC().Truncate(time.Second)
	p := &Position{
		ID:              "pos-" + mint,
		Mint:            mint,
		Status:          status,
		EntryPrice:      1.0,
		EntryTime:       now,
		InitialSizeUsdc: 100,
		InitialTokens:   100,
		InitialRaw:      100_000_000,
		TokenDecimals:   6,
		RemainingRaw:    100_000_000,
		RemainingPct:    100,
		CurrentPrice:    1.0,
	}
	if status == StatusClosed {
		p.RemainingRaw = 0
		p.CloseReason = "stop_loss"
		p.ClosedAt = &now
	}
	return p
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)

	lossTime := time.Now().UTC().Truncate(time.Second)
	snapshot := &Snapshot{
		Open:   []*Position{samplePosition("mintA", StatusOpen)},
		Closed: []*Position{samplePosition("mintB", StatusClosed)},
		Stats: Stats{
			DailyPnlUsdc:      -12.5,
			ConsecutiveLosses: 2,
			LastLossTime:      &lossTime,
		},
	}
	require.NoError(t, store.Save(snapshot))

	restored, err := store.Load()
	require.NoError(t, err)

	require.Len(t, restored.Open, 1)
	require.Len(t, restored.Closed, 1)
	assert.Equal(t, "mintA", restored.Open[0].Mint)
	assert.Equal(t, uint64(100_000_000), restored.Open[0].RemainingRaw)
	assert.Equal(t, StatusClosed, restored.Closed[0].Status)
	assert.Equal(t, -12.5, restored.Stats.DailyPnlUsdc)
	assert.Equal(t, 2, restored.Stats.ConsecutiveLosses)
	require.NotNil(t, restored.Stats.LastLossTime)
	assert.True(t, lossTime.Equal(*restored.Stats.LastLossTime))
}

func TestLoadEmptyDir(t *testing.T) {
	store := newTestStore(t)

	snapshot, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snapshot.Open)
	assert.Empty(t, snapshot.Closed)
	assert.Zero(t, snapshot.Stats.DailyPnlUsdc)
}

func TestLoadCarriesPriorDayOpenOnly(t *testing.T) {
	store := newTestStore(t)

	// Write yesterday's file, then load with "now" on the next day.
	yesterday := time.Now().AddDate(0, 0, -1)
	store.now = func() time.Time { return yesterday }

	lossTime := yesterday.UTC()
	require.NoError(t, store.Save(&Snapshot{
		Open:   []*Position{samplePosition("carried", StatusOpen)},
		Closed: []*Position{samplePosition("done", StatusClosed)},
		Stats: Stats{
			DailyPnlUsdc:      -40,
			ConsecutiveLosses: 3,
			LastLossTime:      &lossTime,
		},
	}))

	store.now = time.Now
	snapshot, err := store.Load()
	require.NoError(t, err)

	// Open risk carries over; closed history and risk counters do not.
	require.Len(t, snapshot.Open, 1)
	assert.Equal(t, "carried", snapshot.Open[0].Mint)
	assert.Empty(t, snapshot.Closed)
	assert.Zero(t, snapshot.Stats.DailyPnlUsdc)
	assert.Zero(t, snapshot.Stats.ConsecutiveLosses)
	assert.Nil(t, snapshot.Stats.LastLossTime)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, store.Save(&Snapshot{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}
