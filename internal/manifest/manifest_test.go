package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

func testOptions() Options {
	return Options{Version: 1, RewriteThreshold: 1000}
}

func TestReservedTableNameRejected(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	err = m.Append(TableEvent{TID: 0, Name: "", Kind: KindCreate})
	require.ErrorIs(t, err, ErrReservedTable)
	require.Nil(t, m.Snapshot().Table(0))
}

func TestDuplicateTableIdRejected(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Append(TableEvent{TID: 1, Name: "foo", Kind: KindCreate}))
	err = m.Append(TableEvent{TID: 1, Name: "bar", Kind: KindCreate})
	require.ErrorIs(t, err, ErrDuplicateTableId)
	require.Equal(t, "foo", m.Snapshot().Table(1).Name)
}

func TestCreateTableIdempotent(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Append(TableEvent{TID: 1, Name: "foo", Kind: KindCreate}))
	require.NoError(t, m.Append(TableEvent{TID: 1, Name: "foo", Kind: KindCreate}))
}

func TestTableAlreadyExistsRejected(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Append(TableEvent{TID: 1, Name: "foo", Kind: KindCreate}))
	err = m.Append(TableEvent{TID: 2, Name: "foo", Kind: KindCreate})
	require.ErrorIs(t, err, ErrTableAlreadyExists)
}

func TestLogEventRequiresExistingTable(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	err = m.Append(LogEvent{FID: 10, TID: 1, Kind: KindCreate, Subtype: SubtypeActiveLog})
	require.ErrorIs(t, err, ErrTableNotFound)
}

// S5 Manifest lifecycle.
func TestManifestLifecycleAndReplay(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)

	require.NoError(t, m.BatchAppend([]Event{
		TableEvent{TID: 1, Name: "foo", Kind: KindCreate},
		LogEvent{FID: 10, TID: 1, Kind: KindCreate, Subtype: SubtypeActiveLog},
		LogEvent{FID: 10, TID: 1, Kind: KindCreate, Subtype: SubtypeValueLog},
	}))
	require.NoError(t, m.Append(LogEvent{FID: 10, TID: 1, Kind: KindCreate, Subtype: SubtypeFrozenLog}))
	require.NoError(t, m.Append(LogEvent{FID: 10, TID: 1, Kind: KindCreate, Subtype: SubtypeBloomFilter}))
	require.NoError(t, m.Append(LogEvent{FID: 11, TID: 1, Kind: KindCreate, Subtype: SubtypeActiveLog}))
	require.NoError(t, m.Append(LogEvent{FID: 10, TID: 1, Kind: KindDelete, Subtype: SubtypeActiveLog}))
	require.NoError(t, m.BatchAppend([]Event{
		LogEvent{FID: 10, TID: 1, Kind: KindDelete, Subtype: SubtypeFrozenLog},
		LogEvent{FID: 10, TID: 1, Kind: KindDelete, Subtype: SubtypeBloomFilter},
	}))
	require.NoError(t, m.Close())

	m2, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m2.Close()

	snap := m2.Snapshot()
	tm := snap.Table(1)
	require.NotNil(t, tm)
	require.Equal(t, "foo", tm.Name)
	require.Equal(t, map[ids.FID]struct{}{11: {}}, tm.ActiveLogs)
	require.Equal(t, map[ids.FID]struct{}{10: {}}, tm.ValueLogs)
	require.Empty(t, tm.FrozenLogs)
	require.Empty(t, tm.BloomFilters)
}

// S6 Rewrite trigger.
func TestRewriteTriggerShrinksLog(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Version: 1, RewriteThreshold: 5}
	m, err := Open(dir, opts)
	require.NoError(t, err)

	require.NoError(t, m.Append(TableEvent{TID: 1, Name: "foo", Kind: KindCreate}))
	require.NoError(t, m.Append(LogEvent{FID: 11, TID: 1, Kind: KindCreate, Subtype: SubtypeActiveLog}))

	// The table and active log 11 keep creations-deletions at 2, so the
	// rewrite fires once deletions exceed 10*2: on the 21st delete.
	for i := 0; i < 21; i++ {
		require.NoError(t, m.Append(LogEvent{FID: 12, TID: 1, Kind: KindCreate, Subtype: SubtypeValueLog}))
		require.NoError(t, m.Append(LogEvent{FID: 12, TID: 1, Kind: KindDelete, Subtype: SubtypeValueLog}))
	}

	snapBefore := m.Snapshot()
	require.Equal(t, map[ids.FID]struct{}{11: {}}, snapBefore.Table(1).ActiveLogs)
	require.Empty(t, snapBefore.Table(1).ValueLogs)
	require.Zero(t, snapBefore.Deletions())
	require.NoError(t, m.Close())

	m2, err := Open(dir, opts)
	require.NoError(t, err)
	defer m2.Close()
	snap2 := m2.Snapshot()
	require.Equal(t, map[ids.FID]struct{}{11: {}}, snap2.Table(1).ActiveLogs)
	require.Empty(t, snap2.Table(1).ValueLogs)
}

// S7 Reserved-table rejection.
func TestS7ReservedTableRejection(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	err = m.Append(TableEvent{TID: 0, Name: "", Kind: KindCreate})
	require.ErrorIs(t, err, ErrReservedTable)
	require.Nil(t, m.Snapshot().Table(0))
}

// S8 Duplicate-id rejection.
func TestS8DuplicateIdRejection(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Append(TableEvent{TID: 1, Name: "foo", Kind: KindCreate}))
	err = m.Append(TableEvent{TID: 1, Name: "bar", Kind: KindCreate})
	require.ErrorIs(t, err, ErrDuplicateTableId)
}

func TestBatchAppendAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m.Close()

	err = m.BatchAppend([]Event{
		TableEvent{TID: 1, Name: "foo", Kind: KindCreate},
		LogEvent{FID: 5, TID: 99, Kind: KindCreate, Subtype: SubtypeActiveLog}, // bad: table 99 absent
	})
	require.ErrorIs(t, err, ErrTableNotFound)
	require.Nil(t, m.Snapshot().Table(1))
}

func TestIDGenerationMonotonicAndSeeded(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, testOptions())
	require.NoError(t, err)

	require.NoError(t, m.Append(TableEvent{TID: 1, Name: "foo", Kind: KindCreate}))
	require.NoError(t, m.Append(LogEvent{FID: 42, TID: 1, Kind: KindCreate, Subtype: SubtypeActiveLog}))
	first := m.NextFID()
	second := m.NextFID()
	require.Greater(t, uint64(first), uint64(42))
	require.Greater(t, uint64(second), uint64(first))
	require.NoError(t, m.Close())

	m2, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer m2.Close()
	seeded := m2.NextFID()
	require.Greater(t, uint64(seeded), uint64(42))
}
