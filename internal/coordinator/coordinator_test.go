package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/ledgerkv/internal/alog"
	"github.com/zhukovaskychina/ledgerkv/internal/ids"
	"github.com/zhukovaskychina/ledgerkv/internal/manifest"
	"github.com/zhukovaskychina/ledgerkv/internal/vlog"
)

const testTID ids.TID = 1

func newTestManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Open(t.TempDir(), manifest.Options{Version: 1, RewriteThreshold: 1000})
	require.NoError(t, err)
	require.NoError(t, m.Append(manifest.TableEvent{TID: testTID, Name: "t", Kind: manifest.KindCreate}))
	t.Cleanup(func() { m.Close() })
	return m
}

func baseDeps(t *testing.T, valueThreshold, bigValueThreshold, vlogSize uint64) Deps {
	t.Helper()
	codec := ids.Codec{TTLEnabled: false}
	return Deps{
		Manifest: newTestManifest(t),
		TID:      testTID,
		Codec:    codec,
		NewActiveLog: func(fid ids.FID) (*alog.ActiveLog, error) {
			buf := make([]byte, 1<<16)
			return alog.New(buf, alog.Options{Codec: codec, MaxKeySize: 1024, MaxValueSize: 1 << 16})
		},
		NewValueLog: func(fid ids.FID, capacity uint64) (*vlog.ValueLog, error) {
			return vlog.Create(fid, "", capacity, vlog.Options{InMemory: true, Codec: codec})
		},
		ValueThreshold:    valueThreshold,
		BigValueThreshold: bigValueThreshold,
		VlogSize:          vlogSize,
	}
}

// S1 Basic insert/get (through the coordinator's inline path).
func TestInlineInsertAndGet(t *testing.T) {
	c, err := New(baseDeps(t, 1<<20, 1<<30, 1<<20))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Insert(1, []byte("k"), []byte("v1"), 0))
	require.NoError(t, c.Insert(2, []byte("k"), []byte("v2"), 0))

	logs := c.ActiveLogs()
	require.Len(t, logs, 1)
	e, ok, err := logs[0].Get(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), e.Inline)
}

// S2 Tombstone via Remove.
func TestRemoveInsertsTombstone(t *testing.T) {
	c, err := New(baseDeps(t, 1<<20, 1<<30, 1<<20))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Insert(1, []byte("k"), []byte("v1"), 0))
	require.NoError(t, c.Remove(2, []byte("k")))

	logs := c.ActiveLogs()
	e, ok, err := logs[0].Get(2, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alog.KindTombstone, e.Kind)
}

// S3 Shared-vlog promotion.
func TestSharedVlogPromotion(t *testing.T) {
	c, err := New(baseDeps(t, 16, 1<<30, 1<<20))
	require.NoError(t, err)
	defer c.Close()

	value := make([]byte, 20)
	for i := range value {
		value[i] = byte(i)
	}
	require.NoError(t, c.Insert(1, []byte("k"), value, 0))

	logs := c.ActiveLogs()
	e, ok, err := logs[0].Get(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alog.KindPointer, e.Kind)
	// Size is the whole encoded record: 8-byte VMeta + 8-byte length
	// prefix + 1-byte key + 20-byte value.
	require.Equal(t, uint32(37), e.Pointer.Size)

	rec, err := c.curVlog.ReadPointerChecked(e.Pointer, e.Checksum)
	require.NoError(t, err)
	require.Equal(t, value, rec.Value)

	raw, err := c.curVlog.ReadRange(e.Pointer.Offset, e.Pointer.Size)
	require.NoError(t, err)
	require.Equal(t, vlog.EntryChecksum(raw), e.Checksum)
}

// S4 Standalone promotion.
func TestStandalonePromotion(t *testing.T) {
	deps := baseDeps(t, 1<<20, 64, 1<<20)
	c, err := New(deps)
	require.NoError(t, err)
	defer c.Close()

	before := c.deps.Manifest.Snapshot().Table(testTID)
	beforeCount := len(before.ValueLogs)

	value := make([]byte, 100)
	require.NoError(t, c.Insert(1, []byte("k"), value, 0))

	after := c.deps.Manifest.Snapshot().Table(testTID)
	require.Equal(t, beforeCount+1, len(after.ValueLogs))

	logs := c.ActiveLogs()
	e, ok, err := logs[0].Get(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alog.KindPointer, e.Kind)
}

func TestInlineRolloverOnInsufficientSpace(t *testing.T) {
	codec := ids.Codec{TTLEnabled: false}
	deps := Deps{
		Manifest: newTestManifest(t),
		TID:      testTID,
		Codec:    codec,
		NewActiveLog: func(fid ids.FID) (*alog.ActiveLog, error) {
			buf := make([]byte, 256) // small enough to force a rollover quickly
			return alog.New(buf, alog.Options{Codec: codec})
		},
		NewValueLog: func(fid ids.FID, capacity uint64) (*vlog.ValueLog, error) {
			return vlog.Create(fid, "", capacity, vlog.Options{InMemory: true, Codec: codec})
		},
		ValueThreshold:    1 << 20,
		BigValueThreshold: 1 << 30,
		VlogSize:          1 << 20,
	}
	c, err := New(deps)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Insert(uint64(i+1), []byte("key"), make([]byte, 16), 0))
	}
	require.Greater(t, len(c.ActiveLogs()), 1)
}

// Resume wires a coordinator over already-recovered active logs and a
// shared value log instead of minting a fresh first log, and both
// reading the pre-existing entries and writing new ones work the same
// as on a freshly-New'd coordinator.
func TestResumeOverRecoveredState(t *testing.T) {
	codec := ids.Codec{TTLEnabled: false}
	m := newTestManifest(t)
	fid := m.NextFID()
	require.NoError(t, m.Append(manifest.LogEvent{FID: fid, TID: testTID, Kind: manifest.KindCreate, Subtype: manifest.SubtypeActiveLog}))

	buf := make([]byte, 1<<16)
	al, err := alog.New(buf, alog.Options{Codec: codec})
	require.NoError(t, err)
	require.NoError(t, al.InsertInline(ids.Meta{Version: 1}, []byte("k"), []byte("v")))

	deps := Deps{
		Manifest: m,
		TID:      testTID,
		Codec:    codec,
		NewActiveLog: func(fid ids.FID) (*alog.ActiveLog, error) {
			return alog.New(make([]byte, 1<<16), alog.Options{Codec: codec})
		},
		NewValueLog: func(fid ids.FID, capacity uint64) (*vlog.ValueLog, error) {
			return vlog.Create(fid, "", capacity, vlog.Options{InMemory: true, Codec: codec})
		},
		ValueThreshold:    1 << 20,
		BigValueThreshold: 1 << 30,
		VlogSize:          1 << 20,
	}

	c, err := Resume(deps, []*alog.ActiveLog{al}, []ids.FID{fid}, nil, ids.FID(0))
	require.NoError(t, err)
	defer c.Close()

	require.Len(t, c.ActiveLogs(), 1)
	e, ok, err := c.ActiveLogs()[0].Get(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alog.KindInline, e.Kind)

	require.NoError(t, c.Insert(2, []byte("k2"), []byte("v2"), 0))
}

// ReadCurrent answers directly off the coordinator's current shared
// value log with no registration involved, and reports ok=false for a
// pointer into any other FID.
func TestReadCurrentHitsLiveValueLog(t *testing.T) {
	deps := baseDeps(t, 16, 1<<30, 1<<20)
	c, err := New(deps)
	require.NoError(t, err)
	defer c.Close()

	value := make([]byte, 20)
	require.NoError(t, c.Insert(1, []byte("k"), value, 0))

	logs := c.ActiveLogs()
	e, ok, err := logs[0].Get(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	rec, hit, err := c.ReadCurrent(e.Pointer, e.Checksum)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, value, rec.Value)

	miss := e.Pointer
	miss.FID = e.Pointer.FID + 1
	_, hit, err = c.ReadCurrent(miss, e.Checksum)
	require.NoError(t, err)
	require.False(t, hit)
}

// Rolling over to a new shared value log registers the displaced one
// with RegisterValueLog and makes it unreachable through ReadCurrent;
// the registered handle still has to be the one actually holding the
// earlier entry's bytes.
func TestSharedVlogRolloverRegistersDisplacedLog(t *testing.T) {
	codec := ids.Codec{TTLEnabled: false}
	registered := map[ids.FID]*vlog.ValueLog{}
	invalidated := map[ids.FID]bool{}
	deps := Deps{
		Manifest: newTestManifest(t),
		TID:      testTID,
		Codec:    codec,
		NewActiveLog: func(fid ids.FID) (*alog.ActiveLog, error) {
			return alog.New(make([]byte, 1<<16), alog.Options{Codec: codec})
		},
		NewValueLog: func(fid ids.FID, capacity uint64) (*vlog.ValueLog, error) {
			return vlog.Create(fid, "", capacity, vlog.Options{InMemory: true, Codec: codec})
		},
		RegisterValueLog: func(fid ids.FID, vl *vlog.ValueLog) {
			registered[fid] = vl
		},
		InvalidateValueLog: func(fid ids.FID) {
			invalidated[fid] = true
		},
		ValueThreshold:    16,
		BigValueThreshold: 1 << 30,
		VlogSize:          64, // tiny: the second insert forces a rollover
	}
	c, err := New(deps)
	require.NoError(t, err)
	defer c.Close()

	value := make([]byte, 20)
	require.NoError(t, c.Insert(1, []byte("k1"), value, 0))

	logs := c.ActiveLogs()
	e1, ok, err := logs[0].Get(1, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	firstFid := e1.Pointer.FID

	require.NoError(t, c.Insert(2, []byte("k2"), value, 0))
	require.NotEqual(t, firstFid, c.curVlogFID)

	require.Empty(t, invalidated)
	oldVl, ok := registered[firstFid]
	require.True(t, ok)

	rec, err := oldVl.ReadPointer(e1.Pointer)
	require.NoError(t, err)
	require.Equal(t, value, rec.Value)

	_, hit, err := c.ReadCurrent(e1.Pointer, e1.Checksum)
	require.NoError(t, err)
	require.False(t, hit)
}
