package faultdb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/wheelguard/internal/model"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "faults.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Record(ctx, Record{At: base, DeviceID: "wheel-1", Fault: model.FaultUsbStall, Critical: true})
	require.NoError(t, err)
	_, err = db.Record(ctx, Record{At: base.Add(time.Second), DeviceID: "wheel-2", Fault: model.FaultThermalLimit, Critical: true, Detail: "85°C"})
	require.NoError(t, err)
	id, err := db.Record(ctx, Record{At: base.Add(2 * time.Second), DeviceID: "wheel-1", Fault: model.FaultPluginOverrun})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	recent, err := db.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, model.FaultPluginOverrun, recent[0].Fault, "newest first")
	assert.False(t, recent[0].Critical)
	assert.Equal(t, "85°C", recent[1].Detail)
	assert.True(t, recent[2].At.Equal(base))

	perDevice, err := db.Recent(ctx, "wheel-1", 10)
	require.NoError(t, err)
	assert.Len(t, perDevice, 2)

	limited, err := db.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		_, err := db.Record(ctx, Record{At: base, Fault: model.FaultOvercurrent, Critical: true})
		require.NoError(t, err)
	}
	_, err := db.Record(ctx, Record{At: base, Fault: model.FaultHandsOffTimeout, Critical: true})
	require.NoError(t, err)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.FaultType]int{
		model.FaultOvercurrent:     3,
		model.FaultHandsOffTimeout: 1,
	}, counts)
}

func TestRecordRequiresFault(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Record(context.Background(), Record{DeviceID: "wheel-1"})
	assert.Error(t, err)
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	before := time.Now().Add(-time.Second)
	_, err := db.Record(ctx, Record{Fault: model.FaultEncoder})
	require.NoError(t, err)

	recent, err := db.Recent(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].At.After(before))
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		_, err := db.Record(ctx, Record{At: base.Add(time.Duration(i) * time.Hour), Fault: model.FaultUsbStall})
		require.NoError(t, err)
	}

	n, err := db.Prune(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recent, err := db.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "faults.db")

	db, err := Open(ctx, path, nil)
	require.NoError(t, err)
	_, err = db.Record(ctx, Record{At: base, Fault: model.FaultTimingViolation})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer db.Close()

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.FaultTimingViolation])
}

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Record(ctx, Record{Fault: model.FaultPipeline})
	require.NoError(t, err)
	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.FaultPipeline])
}

func TestConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Record(ctx, Record{Fault: model.FaultUsbStall})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, counts[model.FaultUsbStall])
}
