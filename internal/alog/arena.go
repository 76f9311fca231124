package alog

import (
	"sync/atomic"
	"unsafe"
)

// offsetAlign is the alignment every arena allocation is rounded up to,
// so that a *uint32 carved out of the backing slice can be handed to
// sync/atomic safely.
const offsetAlign = 4

// nullOffset marks "no node"; offset 0 of the arena is reserved so it can
// never be a valid node address.
const nullOffset uint32 = 0

// Arena is a bump allocator over a single fixed-size byte region, shared
// by every node of a SkipList. It may be backed by a plain heap buffer or
// by a memory-mapped file (chosen by the root package's Options.InMemory);
// either way allocation is a compare-and-swap on the next free offset, matching the "single
// writer, many lock-free readers" model spec.md §4.C requires -- there is
// never allocator contention because only the log's one writer ever
// calls alloc.
type Arena struct {
	buf []byte
	n   uint32 // atomic: next free offset
}

// NewArena creates an arena of the given capacity backed by buf, which
// must already be exactly len(buf) == capacity bytes (either a fresh
// make([]byte, capacity) or an mmap'd region).
func NewArena(buf []byte) *Arena {
	a := &Arena{buf: buf}
	atomic.StoreUint32(&a.n, 1) // reserve offset 0 as nullOffset
	return a
}

// Cap returns the arena's total capacity in bytes.
func (a *Arena) Cap() uint32 {
	return uint32(len(a.buf))
}

// Len returns the number of bytes currently allocated.
func (a *Arena) Len() uint32 {
	return atomic.LoadUint32(&a.n)
}

// alloc reserves size bytes, aligned to offsetAlign, returning the start
// offset. It never blocks or contends meaningfully since the arena has
// exactly one writer.
func (a *Arena) alloc(size uint32) (uint32, error) {
	for {
		cur := atomic.LoadUint32(&a.n)
		aligned := (cur + offsetAlign - 1) &^ (offsetAlign - 1)
		next := aligned + size
		if next > uint32(len(a.buf)) || next < aligned { // overflow guard
			return 0, ErrInsufficientSpace
		}
		if atomic.CompareAndSwapUint32(&a.n, cur, next) {
			return aligned, nil
		}
	}
}

// putBytes copies data into the arena and returns its offset.
func (a *Arena) putBytes(data []byte) (uint32, error) {
	off, err := a.alloc(uint32(len(data)))
	if err != nil {
		return 0, err
	}
	copy(a.buf[off:], data)
	return off, nil
}

func (a *Arena) getBytes(offset, size uint32) []byte {
	if size == 0 {
		return nil
	}
	return a.buf[offset : offset+size]
}

func (a *Arena) u32Ptr(offset uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&a.buf[offset]))
}

func (a *Arena) loadU32(offset uint32) uint32 {
	return atomic.LoadUint32(a.u32Ptr(offset))
}

func (a *Arena) storeU32(offset, v uint32) {
	atomic.StoreUint32(a.u32Ptr(offset), v)
}

func (a *Arena) casU32(offset, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(a.u32Ptr(offset), old, new)
}
