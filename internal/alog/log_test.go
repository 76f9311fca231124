package alog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

func testLog(t *testing.T) *ActiveLog {
	t.Helper()
	buf := make([]byte, 1<<20)
	l, err := New(buf, Options{
		Codec:        ids.Codec{TTLEnabled: false},
		MaxKeySize:   1024,
		MaxValueSize: 1 << 16,
	})
	require.NoError(t, err)
	return l
}

// S1 Basic insert/get.
func TestBasicInsertGet(t *testing.T) {
	l := testLog(t)

	require.NoError(t, l.InsertInline(ids.Meta{Version: 1}, []byte("k"), []byte("v1")))
	require.NoError(t, l.InsertInline(ids.Meta{Version: 2}, []byte("k"), []byte("v2")))

	e, ok, err := l.Get(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), e.Inline)

	e, ok, err = l.Get(2, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), e.Inline)

	e, ok, err = l.Get(3, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), e.Inline)
}

// S2 Tombstone.
func TestTombstoneShadowsOlderVersions(t *testing.T) {
	l := testLog(t)
	require.NoError(t, l.InsertInline(ids.Meta{Version: 1}, []byte("k"), []byte("v1")))
	require.NoError(t, l.InsertInline(ids.Meta{Version: 2}, []byte("k"), []byte("v2")))
	require.NoError(t, l.Remove(ids.Meta{Version: 3}, []byte("k")))

	e, ok, err := l.Get(2, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), e.Inline)

	e, ok, err = l.Get(3, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, KindTombstone, e.Kind)
}

func TestGetMissingKey(t *testing.T) {
	l := testLog(t)
	require.NoError(t, l.InsertInline(ids.Meta{Version: 1}, []byte("k"), []byte("v")))

	_, ok, err := l.Get(5, []byte("nope"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetBelowMinVersionShortCircuits(t *testing.T) {
	l := testLog(t)
	require.NoError(t, l.InsertInline(ids.Meta{Version: 10}, []byte("k"), []byte("v")))

	_, ok, err := l.Get(1, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertPointerRoundTrip(t *testing.T) {
	l := testLog(t)
	ptr := ids.Pointer{FID: 7, Offset: 100, Size: 20}
	require.NoError(t, l.InsertPointer(ids.Meta{Version: 1}, []byte("k"), ptr, 0xdeadbeef))

	e, ok, err := l.Get(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, KindPointer, e.Kind)
	require.Equal(t, ptr, e.Pointer)
	require.Equal(t, uint64(0xdeadbeef), e.Checksum)
}

func TestEachVisitsEveryVersion(t *testing.T) {
	l := testLog(t)
	require.NoError(t, l.InsertInline(ids.Meta{Version: 1}, []byte("k"), []byte("v1")))
	require.NoError(t, l.InsertInline(ids.Meta{Version: 2}, []byte("k"), []byte("v2")))
	ptr := ids.Pointer{FID: 9, Offset: 0, Size: 5}
	require.NoError(t, l.InsertPointer(ids.Meta{Version: 3}, []byte("k2"), ptr, 42))

	var fids []ids.FID
	count := 0
	require.NoError(t, l.Each(func(e Entry) error {
		count++
		if e.Kind == KindPointer {
			fids = append(fids, e.Pointer.FID)
		}
		return nil
	}))
	require.Equal(t, 3, count)
	require.Equal(t, []ids.FID{9}, fids)
}

func TestInsertionFailsOnKeyTooLarge(t *testing.T) {
	buf := make([]byte, 1<<16)
	l, err := New(buf, Options{Codec: ids.Codec{TTLEnabled: false}, MaxKeySize: 4})
	require.NoError(t, err)

	err = l.InsertInline(ids.Meta{Version: 1}, []byte("too-long-key"), []byte("v"))
	require.ErrorIs(t, err, ErrKeyTooLarge)
}

func TestInsertionFailsInsufficientSpace(t *testing.T) {
	buf := make([]byte, 128)
	l, err := New(buf, Options{Codec: ids.Codec{TTLEnabled: false}})
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < 100; i++ {
		lastErr = l.InsertInline(ids.Meta{Version: uint64(i)}, []byte("key"), make([]byte, 32))
		if lastErr != nil {
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrInsufficientSpace)
}

func TestMultipleKeysOrderedTraversal(t *testing.T) {
	l := testLog(t)
	keys := []string{"b", "a", "d", "c"}
	for i, k := range keys {
		require.NoError(t, l.InsertInline(ids.Meta{Version: uint64(i + 1)}, []byte(k), []byte(k)))
	}

	e, ok, err := l.First(100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), e.Key)

	e, ok, err = l.UpperBound(100, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), e.Key)

	e, ok, err = l.LowerBound(100, []byte("c"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("c"), e.Key)
}
