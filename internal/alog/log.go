// Package alog implements the active log described in spec.md §4.C: an
// ordered map from (key, version) to inlined bytes, a value-log pointer,
// or a tombstone, backed by a single arena-allocated skip list.
package alog

import (
	"sync/atomic"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// Value-encoding discriminants (spec.md §3 "Value encoding in the active
// log"): a one-byte tag followed by the kind-specific payload.
const (
	KindTombstone byte = 0x00
	KindInline    byte = 0x01
	KindPointer   byte = 0x02
)

// Entry is a decoded active-log lookup result.
type Entry struct {
	Meta    ids.Meta
	Key     []byte
	Kind    byte
	Inline  []byte
	Pointer ids.Pointer
	// Checksum is the integrity hash stored alongside Pointer (KindPointer
	// only), computed by vlog.EntryChecksum over the value-log bytes Pointer
	// addresses at the moment the entry was written.
	Checksum uint64
}

// Options configures an ActiveLog's size caps; both are enforced before
// anything touches the arena. MaxValueSize is compared against the whole
// value-encoding (the Kind byte plus its payload), not the bare value.
type Options struct {
	Comparator   Comparator
	Codec        ids.Codec
	MaxKeySize   int
	MaxValueSize int
}

// ActiveLog wraps a SkipList with the MVCC get/insert/remove contract
// spec.md §4.C describes, plus the min/max version short-circuit it
// names as an optional optimization.
type ActiveLog struct {
	sl    *SkipList
	opts  Options
	codec ids.Codec

	minVersion uint64 // atomic; 0 until the first insert
	maxVersion uint64 // atomic
	hasEntries uint32 // atomic bool: has minVersion/maxVersion been set
}

// New creates a fresh, empty active log over buf.
func New(buf []byte, opts Options) (*ActiveLog, error) {
	sl, err := NewSkipList(buf, opts.Comparator, opts.Codec.Size())
	if err != nil {
		return nil, err
	}
	return &ActiveLog{sl: sl, opts: opts, codec: opts.Codec}, nil
}

// Open reopens an active log whose arena already holds arenaLen bytes of
// committed nodes (e.g. a reopened mmap'd .alog file).
func Open(buf []byte, arenaLen uint32, opts Options) *ActiveLog {
	sl := OpenSkipList(buf, opts.Comparator, opts.Codec.Size(), arenaLen)
	return &ActiveLog{sl: sl, opts: opts, codec: opts.Codec}
}

// ArenaLen reports the current allocated length of the backing arena, for
// persisting alongside the file so a later Open knows where to resume.
func (a *ActiveLog) ArenaLen() uint32 {
	return a.sl.arena.Len()
}

func (a *ActiveLog) observeVersion(v uint64) {
	for {
		old := atomic.LoadUint64(&a.minVersion)
		if atomic.LoadUint32(&a.hasEntries) != 0 && v >= old {
			break
		}
		if atomic.CompareAndSwapUint64(&a.minVersion, old, v) {
			break
		}
	}
	for {
		old := atomic.LoadUint64(&a.maxVersion)
		if atomic.LoadUint32(&a.hasEntries) != 0 && v <= old {
			break
		}
		if atomic.CompareAndSwapUint64(&a.maxVersion, old, v) {
			break
		}
	}
	atomic.StoreUint32(&a.hasEntries, 1)
}

// MinVersion and MaxVersion are the smallest/largest version ever
// inserted, used by the read path to skip a whole log without a lookup.
func (a *ActiveLog) MinVersion() uint64 { return atomic.LoadUint64(&a.minVersion) }
func (a *ActiveLog) MaxVersion() uint64 { return atomic.LoadUint64(&a.maxVersion) }
func (a *ActiveLog) HasEntries() bool   { return atomic.LoadUint32(&a.hasEntries) != 0 }

func (a *ActiveLog) checkSizes(key, encoding []byte) error {
	if a.opts.MaxKeySize > 0 && len(key) > a.opts.MaxKeySize {
		return ErrKeyTooLarge
	}
	if a.opts.MaxValueSize > 0 && len(encoding) > a.opts.MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

func (a *ActiveLog) internalKey(meta ids.Meta, key []byte) ([]byte, error) {
	metaBuf := make([]byte, a.codec.Size())
	if _, err := a.codec.Encode(metaBuf, meta); err != nil {
		return nil, err
	}
	buf := make([]byte, len(key)+len(metaBuf))
	copy(buf, key)
	copy(buf[len(key):], metaBuf)
	return buf, nil
}

// Insert appends an entry carrying a raw value-encoding byte slice (see
// Kind* constants), which is what the write coordinator uses once it has
// already decided whether a write is a tombstone, inline value, or
// pointer.
func (a *ActiveLog) Insert(meta ids.Meta, key, encoding []byte) error {
	if err := a.checkSizes(key, encoding); err != nil {
		return err
	}
	ik, err := a.internalKey(meta, key)
	if err != nil {
		return err
	}
	if err := a.sl.Insert(ik, encoding); err != nil {
		return err
	}
	a.observeVersion(meta.Version)
	return nil
}

// InsertInline is a convenience wrapper that builds the KindInline
// value-encoding.
func (a *ActiveLog) InsertInline(meta ids.Meta, key, value []byte) error {
	enc := make([]byte, 1+len(value))
	enc[0] = KindInline
	copy(enc[1:], value)
	return a.Insert(meta, key, enc)
}

// pointerChecksumSize is the width of the trailing integrity checksum
// appended after the 16-byte pointer in a KindPointer value-encoding.
const pointerChecksumSize = 8

// InsertPointer is a convenience wrapper that builds the KindPointer
// value-encoding: the 16-byte pointer followed by the 8-byte checksum the
// caller computed over the value-log bytes ptr addresses (vlog.EntryChecksum),
// so a later read can detect the value log having changed underneath the
// pointer since this entry was written.
func (a *ActiveLog) InsertPointer(meta ids.Meta, key []byte, ptr ids.Pointer, checksum uint64) error {
	enc := make([]byte, 1+ids.PointerSize+pointerChecksumSize)
	enc[0] = KindPointer
	if _, err := ptr.Encode(enc[1:]); err != nil {
		return err
	}
	putLeUint64(enc[1+ids.PointerSize:], checksum)
	return a.Insert(meta, key, enc)
}

// Remove inserts a tombstone for (meta.Version, key).
func (a *ActiveLog) Remove(meta ids.Meta, key []byte) error {
	return a.Insert(meta, key, []byte{KindTombstone})
}

func decodeEncoding(key []byte, meta ids.Meta, encoding []byte) (Entry, error) {
	if len(encoding) == 0 {
		return Entry{}, ErrValueTooLarge
	}
	e := Entry{Meta: meta, Key: key, Kind: encoding[0]}
	switch encoding[0] {
	case KindTombstone:
		return e, nil
	case KindInline:
		e.Inline = encoding[1:]
		return e, nil
	case KindPointer:
		if len(encoding) < 1+ids.PointerSize+pointerChecksumSize {
			return Entry{}, ErrValueTooLarge
		}
		ptr, err := ids.DecodePointer(encoding[1 : 1+ids.PointerSize])
		if err != nil {
			return Entry{}, err
		}
		e.Pointer = ptr
		e.Checksum = leUint64(encoding[1+ids.PointerSize:])
		return e, nil
	default:
		return Entry{}, ErrValueTooLarge
	}
}

// Get performs the MVCC point lookup spec.md §4.C describes: the newest
// version of key that is <= the requested version. ok is false if no
// version of key is visible in this log at all. A tombstone is returned
// as a present Entry (ok == true, Kind == KindTombstone), so the caller
// can tell "deleted here" from "never written here" (ok == false).
func (a *ActiveLog) Get(version uint64, key []byte) (Entry, bool, error) {
	if a.HasEntries() && (version < a.MinVersion()) {
		return Entry{}, false, nil
	}
	node := a.sl.floor(key, version)
	if node == nullOffset {
		return Entry{}, false, nil
	}
	nodeKey := a.sl.nodeKey(node)
	meta, err := a.codec.Decode(nodeKey[len(nodeKey)-a.codec.Size():])
	if err != nil {
		return Entry{}, false, err
	}
	userKey := nodeKey[:len(nodeKey)-a.codec.Size()]
	entry, err := decodeEncoding(userKey, meta, a.sl.nodeValue(node))
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// ContainsKey reports whether Get(version, key) would find any entry
// (tombstone or not).
func (a *ActiveLog) ContainsKey(version uint64, key []byte) bool {
	_, ok, _ := a.Get(version, key)
	return ok
}

// LowerBound returns the visible entry (per version) for the first user
// key that is >= bound, or ok == false if the log has no keys >= bound.
func (a *ActiveLog) LowerBound(version uint64, bound []byte) (Entry, bool, error) {
	return a.scanForward(version, bound)
}

// First returns the visible entry for the smallest user key in the log.
func (a *ActiveLog) First(version uint64) (Entry, bool, error) {
	return a.scanForward(version, nil)
}

func (a *ActiveLog) scanForward(version uint64, bound []byte) (Entry, bool, error) {
	var node uint32
	if bound == nil {
		node = a.sl.next(a.sl.head, 0)
	} else {
		node = a.sl.ceilingKey(bound)
	}
	for node != nullOffset {
		nodeKey := a.sl.nodeKey(node)
		metaSize := a.codec.Size()
		userKey := nodeKey[:len(nodeKey)-metaSize]
		entry, ok, err := a.Get(version, userKey)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return entry, true, nil
		}
		// Every version of userKey at or below the requested version was
		// absent (e.g. all insertions happened after `version`); skip to
		// the next distinct user key.
		node = a.skipRun(node, userKey)
	}
	return Entry{}, false, nil
}

// skipRun advances past every node sharing userKey, returning the first
// node of the next distinct key (or nullOffset at the end).
func (a *ActiveLog) skipRun(node uint32, userKey []byte) uint32 {
	metaSize := a.codec.Size()
	for node != nullOffset {
		nodeKey := a.sl.nodeKey(node)
		if a.sl.cmp(nodeKey[:len(nodeKey)-metaSize], userKey) != 0 {
			return node
		}
		node = a.sl.next(node, 0)
	}
	return nullOffset
}

// Last returns the visible entry for the largest user key in the log.
// Unlike First/LowerBound this is O(n) in the number of distinct keys:
// the skip list's towers only link forward, so finding the tail requires
// a full scan. Active logs are bounded by arena size and rolled over
// well before that becomes a practical cost.
func (a *ActiveLog) Last(version uint64) (Entry, bool, error) {
	var best Entry
	found := false
	node := a.sl.next(a.sl.head, 0)
	metaSize := a.codec.Size()
	for node != nullOffset {
		nodeKey := a.sl.nodeKey(node)
		userKey := nodeKey[:len(nodeKey)-metaSize]
		entry, ok, err := a.Get(version, userKey)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			best, found = entry, true
		}
		node = a.skipRun(node, userKey)
	}
	return best, found, nil
}

// Each calls fn with every entry currently stored in the log, across
// every version of every key, in key order -- unlike Get/First/LowerBound/
// UpperBound/Last, which all resolve to a single newest-visible-version
// entry per key. Used by callers that need to know everything a log could
// still answer for, e.g. collecting every value-log FID a table's active
// logs hold a live pointer into.
func (a *ActiveLog) Each(fn func(Entry) error) error {
	metaSize := a.codec.Size()
	node := a.sl.next(a.sl.head, 0)
	for node != nullOffset {
		nodeKey := a.sl.nodeKey(node)
		meta, err := a.codec.Decode(nodeKey[len(nodeKey)-metaSize:])
		if err != nil {
			return err
		}
		userKey := nodeKey[:len(nodeKey)-metaSize]
		entry, err := decodeEncoding(userKey, meta, a.sl.nodeValue(node))
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
		node = a.sl.next(node, 0)
	}
	return nil
}

// UpperBound returns the visible entry for the first user key strictly
// greater than bound.
func (a *ActiveLog) UpperBound(version uint64, bound []byte) (Entry, bool, error) {
	node := a.sl.ceilingKey(bound)
	metaSize := a.codec.Size()
	if node != nullOffset {
		nodeKey := a.sl.nodeKey(node)
		if a.sl.cmp(nodeKey[:len(nodeKey)-metaSize], bound) == 0 {
			node = a.skipRun(node, bound)
		}
	}
	for node != nullOffset {
		nodeKey := a.sl.nodeKey(node)
		userKey := nodeKey[:len(nodeKey)-metaSize]
		entry, ok, err := a.Get(version, userKey)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return entry, true, nil
		}
		node = a.skipRun(node, userKey)
	}
	return Entry{}, false, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
