package alog

import (
	"math/rand"
	"sync"
	"time"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// maxHeight bounds the skip list's tower height; 16 levels comfortably
// supports the tens of millions of entries a single active log's arena
// can hold before it fills and the coordinator rolls to a new log.
const maxHeight = 16

const (
	fieldKeyOffset = 0
	fieldKeySize   = 4
	fieldValOffset = 8
	fieldValSize   = 12
	fieldHeight    = 16
	nodeHeaderSize = 20
)

// Comparator orders user keys. The default is lexicographic byte order.
type Comparator func(a, b []byte) int

// ByteCompare is the default Comparator.
func ByteCompare(a, b []byte) int {
	switch {
	case len(a) < len(b):
		if c := cmpPrefix(a, b); c != 0 {
			return c
		}
		return -1
	case len(a) > len(b):
		if c := cmpPrefix(b, a); c != 0 {
			return -c
		}
		return 1
	default:
		return cmpPrefix(a, b)
	}
}

func cmpPrefix(shorter, longer []byte) int {
	for i := range shorter {
		if shorter[i] != longer[i] {
			if shorter[i] < longer[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SkipList is the arena-backed, lock-free, single-writer/multi-reader
// ordered structure described in spec.md §4.C. Keys are internal keys
// (user key bytes followed by an encoded Meta); entries for the same
// user key sort newest-version-first -- see compareInternalKeys.
type SkipList struct {
	arena    *Arena
	cmp      Comparator
	metaSize int
	head     uint32
	height   uint32 // atomic, current tallest populated level+1

	writerMu sync.Mutex // serializes Insert against itself; readers never take this
	rnd      *rand.Rand
	rndMu    sync.Mutex
}

// NewSkipList creates a fresh skip list over buf (capacity = len(buf)).
func NewSkipList(buf []byte, cmp Comparator, metaSize int) (*SkipList, error) {
	if cmp == nil {
		cmp = ByteCompare
	}
	arena := NewArena(buf)
	headOff, err := newNode(arena, nil, nil, maxHeight)
	if err != nil {
		return nil, err
	}
	sl := &SkipList{
		arena:    arena,
		cmp:      cmp,
		metaSize: metaSize,
		head:     headOff,
		height:   1,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return sl, nil
}

// OpenSkipList reopens a skip list from an arena buffer a prior instance
// wrote to (e.g. a reopened mmap'd active-log file): the head node is
// always at the same reserved offset, so no separate index is needed.
func OpenSkipList(buf []byte, cmp Comparator, metaSize int, arenaLen uint32) *SkipList {
	if cmp == nil {
		cmp = ByteCompare
	}
	arena := NewArena(buf)
	arena.n = arenaLen
	return &SkipList{
		arena:    arena,
		cmp:      cmp,
		metaSize: metaSize,
		head:     headOffset,
		height:   maxHeight,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// headOffset is the fixed arena offset of the sentinel head node: offset
// 0 is reserved as null, so the head node -- always the first allocation
// a fresh arena makes -- lands at offsetAlign.
const headOffset = offsetAlign

func newNode(arena *Arena, key, value []byte, height uint32) (uint32, error) {
	keyOff, err := arena.putBytes(key)
	if err != nil {
		return 0, err
	}
	valOff, err := arena.putBytes(value)
	if err != nil {
		return 0, err
	}
	nodeOff, err := arena.alloc(nodeHeaderSize + height*4)
	if err != nil {
		return 0, err
	}
	arena.storeU32(nodeOff+fieldKeyOffset, keyOff)
	arena.storeU32(nodeOff+fieldKeySize, uint32(len(key)))
	arena.storeU32(nodeOff+fieldValOffset, valOff)
	arena.storeU32(nodeOff+fieldValSize, uint32(len(value)))
	arena.storeU32(nodeOff+fieldHeight, height)
	// Tower slots are zero-valued (nullOffset) by construction of a fresh
	// arena region; nothing further to initialize.
	return nodeOff, nil
}

func (s *SkipList) nodeKey(n uint32) []byte {
	off := s.arena.loadU32(n + fieldKeyOffset)
	size := s.arena.loadU32(n + fieldKeySize)
	return s.arena.getBytes(off, size)
}

func (s *SkipList) nodeValue(n uint32) []byte {
	off := s.arena.loadU32(n + fieldValOffset)
	size := s.arena.loadU32(n + fieldValSize)
	return s.arena.getBytes(off, size)
}

func (s *SkipList) nodeHeight(n uint32) uint32 {
	return s.arena.loadU32(n + fieldHeight)
}

func (s *SkipList) towerOffset(n uint32, level uint32) uint32 {
	return n + nodeHeaderSize + level*4
}

func (s *SkipList) next(n uint32, level uint32) uint32 {
	return s.arena.loadU32(s.towerOffset(n, level))
}

func (s *SkipList) setNext(n uint32, level, v uint32) {
	s.arena.storeU32(s.towerOffset(n, level), v)
}

func (s *SkipList) casNext(n uint32, level, old, v uint32) bool {
	return s.arena.casU32(s.towerOffset(n, level), old, v)
}

// compareInternalKeys orders by user key ascending, then by version
// descending (newest first) -- the externally visible ordering spec.md
// §3/§9 fixes. metaSize bytes are always the trailing Meta.
func (s *SkipList) compareInternalKeys(a, b []byte) int {
	aUser, bUser := a[:len(a)-s.metaSize], b[:len(b)-s.metaSize]
	if c := s.cmp(aUser, bUser); c != 0 {
		return c
	}
	av, _ := ids.DecodeVersion(a[len(a)-s.metaSize:])
	bv, _ := ids.DecodeVersion(b[len(b)-s.metaSize:])
	switch {
	case av > bv:
		return -1
	case av < bv:
		return 1
	default:
		return 0
	}
}

func (s *SkipList) randomHeight() uint32 {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	h := uint32(1)
	for h < maxHeight && s.rnd.Float64() < 0.5 {
		h++
	}
	return h
}

// findSplice walks every level down from the head, returning the last node
// strictly less than key at each level in preds, and the first node not
// less than key at each level in succs.
func (s *SkipList) findSplice(key []byte) (preds, succs [maxHeight]uint32) {
	level := int(atomic32Load(&s.height)) - 1
	pred := s.head
	for ; level >= 0; level-- {
		for {
			succ := s.next(pred, uint32(level))
			if succ == nullOffset {
				break
			}
			if s.compareInternalKeys(s.nodeKey(succ), key) >= 0 {
				break
			}
			pred = succ
		}
		preds[level] = pred
		succs[level] = s.next(pred, uint32(level))
	}
	return preds, succs
}

func atomic32Load(p *uint32) uint32 {
	// height is only ever mutated by the single writer via plain stores
	// after a successful insert raises it, so a relaxed read is safe and
	// matches the rest of the writer-owns-writes, readers-never-block
	// discipline used throughout this package.
	return *p
}

// Insert adds key->value as a new node. Only one goroutine (the table's
// writer) may call Insert or Remove at a time; any number of goroutines
// may call Get concurrently.
func (s *SkipList) Insert(key, value []byte) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	height := s.randomHeight()
	nodeOff, err := newNode(s.arena, key, value, height)
	if err != nil {
		return ErrInsufficientSpace
	}

	preds, succs := s.findSplice(key)

	if height > s.height {
		s.height = height
	}

	for level := uint32(0); level < height; level++ {
		pred := preds[level]
		if pred == nullOffset {
			pred = s.head
		}
		succ := succs[level]
		s.setNext(nodeOff, level, succ) // node fully formed before publish
		s.setNext(pred, level, nodeOff) // publish: readers can now see it
	}
	return nil
}

// floor returns the node holding the newest version of key whose version
// is <= version, or nullOffset if no such entry exists.
func (s *SkipList) floor(key []byte, version uint64) uint32 {
	queryMeta := ids.Meta{Version: ids.MaxVersion}
	query := appendMeta(key, queryMeta, s.metaSize)

	pred := s.head
	level := int(atomic32Load(&s.height)) - 1
	var cur uint32 = nullOffset
	for ; level >= 0; level-- {
		cur = s.next(pred, uint32(level))
		for cur != nullOffset && s.compareInternalKeys(s.nodeKey(cur), query) < 0 {
			pred = cur
			cur = s.next(pred, uint32(level))
		}
	}

	for cur != nullOffset {
		nodeKey := s.nodeKey(cur)
		nodeUser := nodeKey[:len(nodeKey)-s.metaSize]
		if s.cmp(nodeUser, key) != 0 {
			return nullOffset
		}
		nodeVersion, _ := ids.DecodeVersion(nodeKey[len(nodeKey)-s.metaSize:])
		if nodeVersion <= version {
			return cur
		}
		cur = s.next(cur, 0)
	}
	return nullOffset
}

// ceilingKey returns the first node whose user key is >= key (ignoring
// version), used by LowerBound/UpperBound to locate the start of a key's
// run of versions.
func (s *SkipList) ceilingKey(key []byte) uint32 {
	queryMeta := ids.Meta{Version: ids.MaxVersion}
	query := appendMeta(key, queryMeta, s.metaSize)

	pred := s.head
	level := int(atomic32Load(&s.height)) - 1
	var cur uint32 = nullOffset
	for ; level >= 0; level-- {
		cur = s.next(pred, uint32(level))
		for cur != nullOffset && s.compareInternalKeys(s.nodeKey(cur), query) < 0 {
			pred = cur
			cur = s.next(pred, uint32(level))
		}
	}
	return cur
}

func appendMeta(userKey []byte, m ids.Meta, metaSize int) []byte {
	codec := ids.Codec{TTLEnabled: metaSize > 8}
	buf := make([]byte, len(userKey)+metaSize)
	copy(buf, userKey)
	_, _ = codec.Encode(buf[len(userKey):], m)
	return buf
}
