package vlog

import (
	"container/list"
	"sync"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// Cache is the bounded, concurrency-safe LRU of open value-log read
// handles named by spec.md §4.F/§9: "a concrete bounded concurrent
// cache keyed by FID". Readers hold a strong reference to the returned
// *ValueLog for the duration of a read, which keeps it alive even if it
// is evicted from the cache mid-read -- eviction only drops the cache's
// own reference and, once no reader holds one either, closes the handle.
//
// Modeled on the teacher's server/innodb/buffer_pool/buffer_lru.go, which
// tracks hits/misses the same way and uses container/list for the
// recency chain; simplified to a single list since a handle cache has no
// young/old-generation scan-resistance requirement the way a page buffer
// pool does.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[ids.FID]*list.Element
	order    *list.List // front = most recently used
	opener   Opener

	hits   uint64
	misses uint64
}

type entry struct {
	fid ids.FID
	vl  *ValueLog
	// refs tracks outstanding strong references (the cache's own slot
	// counts as one); the handle is only closed once this reaches zero
	// and the entry has been evicted.
	refs    int
	evicted bool
}

// Opener opens a sealed value log by FID on a cache miss.
type Opener func(fid ids.FID) (*ValueLog, error)

// Handle is a strong reference acquired by Get. The caller must call
// Release exactly once, passing back the same Handle, when done reading.
// Release operates on the entry the Handle points at directly rather than
// looking fid back up in the cache, so a Handle stays valid for Release
// even if the cache has since evicted or invalidated fid.
type Handle struct {
	e *entry
}

// ValueLog returns the handle's underlying value log.
func (h *Handle) ValueLog() *ValueLog { return h.e.vl }

// NewCache creates a handle cache bounded to capacity entries.
func NewCache(capacity int, opener Opener) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[ids.FID]*list.Element),
		order:    list.New(),
		opener:   opener,
	}
}

// Get returns a Handle on the value log for fid, opening it via Opener on
// a miss and inserting it into the cache, evicting the least-recently-used
// entry if the cache is full. The caller must call Release(h) when done
// reading.
func (c *Cache) Get(fid ids.FID) (*Handle, error) {
	c.mu.Lock()
	if el, ok := c.items[fid]; ok {
		c.hits++
		c.order.MoveToFront(el)
		e := el.Value.(*entry)
		e.refs++
		c.mu.Unlock()
		return &Handle{e: e}, nil
	}
	c.misses++
	c.mu.Unlock()

	vl, err := c.opener(fid)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if el, ok := c.items[fid]; ok {
		// Lost a race with a concurrent opener; keep the winner, close ours.
		c.order.MoveToFront(el)
		e := el.Value.(*entry)
		e.refs++
		c.mu.Unlock()
		vl.Close()
		return &Handle{e: e}, nil
	}

	e := &entry{fid: fid, vl: vl, refs: 2} // one for the cache slot, one for this caller
	el := c.order.PushFront(e)
	c.items[fid] = el

	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
	c.mu.Unlock()
	return &Handle{e: e}, nil
}

// Put registers an already-open handle under fid, e.g. a value log the
// write coordinator just created: an in-memory value log has no file to
// reopen from on a cache miss, so the coordinator hands the live handle
// to the cache directly instead of relying on Opener. A fid already
// present is left untouched; vl is closed immediately in that case since
// nothing else will ever reference this particular handle.
func (c *Cache) Put(fid ids.FID, vl *ValueLog) {
	c.mu.Lock()
	if _, ok := c.items[fid]; ok {
		c.mu.Unlock()
		vl.Close()
		return
	}
	e := &entry{fid: fid, vl: vl, refs: 1} // cache slot's own reference
	el := c.order.PushFront(e)
	c.items[fid] = el
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
	c.mu.Unlock()
}

// Release returns the reference h carries, acquired by Get. It must be
// called exactly once per successful Get, with the Handle that call
// returned. Unlike a fid-keyed release, this works correctly even if the
// cache has evicted or invalidated fid in the meantime: h.e is the same
// *entry the cache's own slot references (or referenced), so decrementing
// its refs and checking closeIfUnreferenced needs no map lookup that
// eviction could have already removed.
func (c *Cache) Release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.e.refs--
	c.closeIfUnreferenced(h.e)
}

// evictOldest drops the cache's own reference to the least-recently-used
// entry. Must be called with c.mu held.
func (c *Cache) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.fid)
	e.refs--
	e.evicted = true
	c.closeIfUnreferenced(e)
}

// Invalidate forcibly drops fid from the cache, e.g. after its value log
// is deleted from the manifest. Must be called with c.mu NOT held.
func (c *Cache) Invalidate(fid ids.FID) {
	c.mu.Lock()
	el, ok := c.items[fid]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.order.Remove(el)
	delete(c.items, fid)
	e := el.Value.(*entry)
	e.refs--
	e.evicted = true
	c.closeIfUnreferenced(e)
	c.mu.Unlock()
}

func (c *Cache) closeIfUnreferenced(e *entry) {
	if e.evicted && e.refs <= 0 {
		e.vl.Close()
	}
}

// Stats reports cache hit/miss counters, mirroring the teacher's
// statsAccessor shape.
type Stats struct {
	Hits   uint64
	Misses uint64
	Len    int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Len: c.order.Len()}
}
