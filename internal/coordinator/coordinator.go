// Package coordinator implements the per-table write coordinator
// described in spec.md §4.E: classification of incoming writes into the
// inline, shared-vlog, and standalone paths, allocation of fresh active
// logs and value logs on exhaustion, and the rewind/delete-on-failure
// undo idiom that keeps a failed write from leaving a dangling side
// effect behind.
package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/ledgerkv/internal/alog"
	"github.com/zhukovaskychina/ledgerkv/internal/ids"
	"github.com/zhukovaskychina/ledgerkv/internal/manifest"
	"github.com/zhukovaskychina/ledgerkv/internal/vlog"
)

// ActiveLogFactory creates a brand-new, empty active log identified by
// fid. The coordinator never knows the file path; that is the caller's
// (root package's) concern.
type ActiveLogFactory func(fid ids.FID) (*alog.ActiveLog, error)

// ValueLogFactory creates a brand-new, empty value log of the given
// capacity identified by fid.
type ValueLogFactory func(fid ids.FID, capacity uint64) (*vlog.ValueLog, error)

// Deps wires a Coordinator to its table's manifest handle and file
// factories. QueueSize bounds the writer's request channel (spec.md §5:
// "consuming write requests from a bounded channel").
type Deps struct {
	Manifest *manifest.Manifest
	TID      ids.TID

	NewActiveLog ActiveLogFactory
	NewValueLog  ValueLogFactory

	// RegisterValueLog, if set, is called with a value log once this
	// coordinator will no longer append to it: a standalone value log
	// right after its manifest event commits and it is sealed, a shared
	// value log only when a rollover displaces it and seals it. This is
	// how such a value log becomes reachable for reads without going
	// through a reopen-by-path Opener -- the only path available for an
	// in-memory value log, which has no file to reopen.
	RegisterValueLog func(fid ids.FID, vl *vlog.ValueLog)
	// InvalidateValueLog, if set, is called to drop a value log's
	// registration after a failed write deletes the file it was
	// backing (see RegisterValueLog).
	InvalidateValueLog func(fid ids.FID)

	ValueThreshold    uint64
	BigValueThreshold uint64
	VlogSize          uint64
	Codec             ids.Codec

	QueueSize int
	Log       *logrus.Logger
}

// activeLogEntry pairs a live active log with the FID it was registered
// under in the manifest.
type activeLogEntry struct {
	fid ids.FID
	log *alog.ActiveLog
}

// Coordinator is the single writer for one table. Exactly one goroutine
// (started by Start) ever calls into its active logs or value log for
// writes; any number of readers may call ActiveLogs concurrently.
type Coordinator struct {
	deps Deps

	logsMu     sync.Mutex // guards activeLogs; writer appends, readers copy
	activeLogs []*activeLogEntry

	// vlogMu guards curVlog/curVlogFID against concurrent ReadCurrent
	// calls: a reader holds the read lock for the duration of its read
	// against the current vlog, so a rollover can never hand the same
	// handle to the eviction cache while a read is still in flight
	// against it.
	vlogMu     sync.RWMutex
	curVlog    *vlog.ValueLog
	curVlogFID ids.FID

	reqCh  chan *Request
	done   chan struct{}
	closed int32
}

// New creates the coordinator's first active log, registers it with the
// manifest, and starts the writer goroutine.
func New(deps Deps) (*Coordinator, error) {
	if deps.QueueSize <= 0 {
		deps.QueueSize = 64
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}

	c := &Coordinator{
		deps:  deps,
		reqCh: make(chan *Request, deps.QueueSize),
		done:  make(chan struct{}),
	}

	fid := deps.Manifest.NextFID()
	firstLog, err := deps.NewActiveLog(fid)
	if err != nil {
		return nil, err
	}
	if err := deps.Manifest.Append(manifest.LogEvent{
		FID: fid, TID: deps.TID, Kind: manifest.KindCreate, Subtype: manifest.SubtypeActiveLog,
	}); err != nil {
		return nil, err
	}
	c.activeLogs = []*activeLogEntry{{fid: fid, log: firstLog}}

	go c.run()
	return c, nil
}

// Resume rebuilds a coordinator over active logs and a value log already
// recovered from disk by the caller (e.g. on reopening an existing
// table), without minting a fresh active log.
func Resume(deps Deps, logs []*alog.ActiveLog, fids []ids.FID, curVlog *vlog.ValueLog, curVlogFID ids.FID) (*Coordinator, error) {
	if deps.QueueSize <= 0 {
		deps.QueueSize = 64
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if len(logs) != len(fids) {
		return nil, errors.New("coordinator: logs/fids length mismatch")
	}
	c := &Coordinator{
		deps:       deps,
		reqCh:      make(chan *Request, deps.QueueSize),
		done:       make(chan struct{}),
		curVlog:    curVlog,
		curVlogFID: curVlogFID,
	}
	for i := range logs {
		c.activeLogs = append(c.activeLogs, &activeLogEntry{fid: fids[i], log: logs[i]})
	}
	go c.run()
	return c, nil
}

func (c *Coordinator) run() {
	defer close(c.done)
	for req := range c.reqCh {
		req.Reply <- c.handle(req)
	}
}

// Close stops accepting new requests and waits for the writer goroutine
// to drain whatever was already queued.
func (c *Coordinator) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.reqCh)
	<-c.done
	return nil
}

// Submit enqueues req for the writer goroutine and blocks for its reply.
func (c *Coordinator) Submit(req *Request) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrClosed
	}
	select {
	case c.reqCh <- req:
	default:
		// Queue full: block, but recheck closed to avoid sending on a
		// channel a concurrent Close is about to close.
		if atomic.LoadInt32(&c.closed) != 0 {
			return ErrClosed
		}
		c.reqCh <- req
	}
	return <-req.Reply
}

// Insert classifies and writes (version, key, value) per spec.md §4.E.
func (c *Coordinator) Insert(version uint64, key, value []byte, expireAt uint64) error {
	return c.Submit(newRequest(version, key, value, expireAt, false))
}

// Remove inserts a tombstone for (version, key) via the inline path.
func (c *Coordinator) Remove(version uint64, key []byte) error {
	return c.Submit(newRequest(version, key, nil, 0, true))
}

// ActiveLogs returns a snapshot of the per-table active logs, oldest to
// newest, for the read path to scan newest-to-oldest.
func (c *Coordinator) ActiveLogs() []*alog.ActiveLog {
	c.logsMu.Lock()
	defer c.logsMu.Unlock()
	out := make([]*alog.ActiveLog, len(c.activeLogs))
	for i, e := range c.activeLogs {
		out[i] = e.log
	}
	return out
}

// ReadCurrent reads ptr directly from the coordinator's current
// writable shared value log, if ptr addresses it, without routing
// through any external handle cache -- the only way to read a value
// log that may still be written to again and so must never be closed
// out from under an in-flight read. ok is false when ptr does not
// address the current value log; the caller is expected to fall back
// to its own cache of sealed value-log handles in that case. checksum is
// the active-log entry's stored integrity hash for ptr, verified against
// the value-log bytes before they are decoded.
func (c *Coordinator) ReadCurrent(ptr ids.Pointer, checksum uint64) (rec vlog.Record, ok bool, err error) {
	c.vlogMu.RLock()
	defer c.vlogMu.RUnlock()
	if c.curVlog == nil || c.curVlogFID != ptr.FID {
		return vlog.Record{}, false, nil
	}
	rec, err = c.curVlog.ReadPointerChecked(ptr, checksum)
	return rec, true, err
}

func (c *Coordinator) currentActiveLog() *alog.ActiveLog {
	c.logsMu.Lock()
	defer c.logsMu.Unlock()
	return c.activeLogs[len(c.activeLogs)-1].log
}

func (c *Coordinator) meta(req *Request) ids.Meta {
	return ids.Meta{Version: req.Version, ExpireAt: req.ExpireAt}
}

func (c *Coordinator) registerValueLog(fid ids.FID, vl *vlog.ValueLog) {
	if c.deps.RegisterValueLog != nil {
		c.deps.RegisterValueLog(fid, vl)
	}
}

func (c *Coordinator) invalidateValueLog(fid ids.FID) {
	if c.deps.InvalidateValueLog != nil {
		c.deps.InvalidateValueLog(fid)
	}
}

// handle runs on the writer goroutine only.
func (c *Coordinator) handle(req *Request) error {
	meta := c.meta(req)

	if req.Remove {
		return c.inlinePath(meta, func(l *alog.ActiveLog) error { return l.Remove(meta, req.Key) })
	}

	switch {
	case uint64(len(req.Value)) >= c.deps.BigValueThreshold && c.deps.BigValueThreshold > 0:
		return c.insertStandalone(meta, req.Key, req.Value)
	case uint64(len(req.Value)) >= c.deps.ValueThreshold && c.deps.ValueThreshold > 0:
		return c.insertSharedVlog(meta, req.Key, req.Value)
	default:
		return c.inlinePath(meta, func(l *alog.ActiveLog) error { return l.InsertInline(meta, req.Key, req.Value) })
	}
}

// inlinePath performs the inline path (spec.md §4.E): try insert against
// the newest active log; on ErrInsufficientSpace, allocate a fresh one,
// register it with the manifest, and retry. insert is applied to
// whichever log is current at the time it runs.
func (c *Coordinator) inlinePath(meta ids.Meta, insert func(*alog.ActiveLog) error) error {
	cur := c.currentActiveLog()
	err := insert(cur)
	if err == nil {
		return nil
	}
	if !errors.Is(err, alog.ErrInsufficientSpace) {
		return err
	}

	newLog, fid, err := c.rollActiveLog()
	if err != nil {
		return err
	}
	if err := insert(newLog); err != nil {
		return err
	}
	c.logsMu.Lock()
	c.activeLogs = append(c.activeLogs, &activeLogEntry{fid: fid, log: newLog})
	c.logsMu.Unlock()
	return nil
}

func (c *Coordinator) rollActiveLog() (*alog.ActiveLog, ids.FID, error) {
	fid := c.deps.Manifest.NextFID()
	newLog, err := c.deps.NewActiveLog(fid)
	if err != nil {
		return nil, 0, err
	}
	if err := c.deps.Manifest.Append(manifest.LogEvent{
		FID: fid, TID: c.deps.TID, Kind: manifest.KindCreate, Subtype: manifest.SubtypeActiveLog,
	}); err != nil {
		return nil, 0, err
	}
	return newLog, fid, nil
}

// insertSharedVlog performs the shared-vlog path (spec.md §4.E). The
// coordinator's current writable value log (c.curVlog) is never handed
// to the bounded read-handle cache while it is still current: a cache
// eviction could close it out from under a later Append on this same
// goroutine. It is registered into the cache only once replaced by
// rollover, after being sealed, which is the point at which this
// coordinator promises never to write to it again.
func (c *Coordinator) insertSharedVlog(meta ids.Meta, key, value []byte) error {
	rec := vlog.Record{Version: meta.Version, ExpireAt: meta.ExpireAt, Key: key, Value: value}

	c.vlogMu.RLock()
	vl := c.curVlog
	c.vlogMu.RUnlock()

	fresh := false
	var startLen uint64
	var ptr ids.Pointer
	var err error
	var freshFid ids.FID

	if vl != nil {
		startLen = vl.Len()
		ptr, err = vl.Append(rec)
	}
	if vl == nil || isNotEnoughSpace(err) {
		fid := c.deps.Manifest.NextFID()
		newVl, cerr := c.deps.NewValueLog(fid, c.deps.VlogSize)
		if cerr != nil {
			return cerr
		}
		if merr := c.deps.Manifest.Append(manifest.LogEvent{
			FID: fid, TID: c.deps.TID, Kind: manifest.KindCreate, Subtype: manifest.SubtypeValueLog,
		}); merr != nil {
			_ = newVl.Remove()
			return merr
		}

		c.vlogMu.Lock()
		oldVl, oldFid := c.curVlog, c.curVlogFID
		c.curVlog = newVl
		c.curVlogFID = fid
		c.vlogMu.Unlock()

		// Seal and register the displaced value log before anything else:
		// the instant curVlog stops pointing at it, a reader's ReadCurrent
		// will miss it, so it must already be reachable through the cache
		// with no gap a concurrent reader could fall into.
		if oldVl != nil {
			_ = oldVl.Seal()
			c.registerValueLog(oldFid, oldVl)
		}

		vl = newVl
		fresh = true
		freshFid = fid
		startLen = 0
		ptr, err = vl.Append(rec)
		if err != nil {
			_ = newVl.Remove()
			c.invalidateValueLog(fid)
			c.vlogMu.Lock()
			if c.curVlogFID == fid {
				c.curVlog = nil
				c.curVlogFID = 0
			}
			c.vlogMu.Unlock()
			return err
		}
	} else if err != nil {
		return err
	}

	checksum, cserr := c.entryChecksum(vl, ptr)
	if cserr != nil {
		if fresh {
			_ = vl.Remove()
			c.invalidateValueLog(freshFid)
			c.vlogMu.Lock()
			if c.curVlogFID == freshFid {
				c.curVlog = nil
				c.curVlogFID = 0
			}
			c.vlogMu.Unlock()
		} else {
			_ = vl.Rewind(startLen)
		}
		return cserr
	}

	insErr := c.inlinePath(meta, func(l *alog.ActiveLog) error { return l.InsertPointer(meta, key, ptr, checksum) })
	if insErr != nil {
		if fresh {
			_ = vl.Remove()
			c.invalidateValueLog(freshFid)
			c.vlogMu.Lock()
			if c.curVlogFID == freshFid {
				c.curVlog = nil
				c.curVlogFID = 0
			}
			c.vlogMu.Unlock()
		} else {
			_ = vl.Rewind(startLen)
		}
		return insErr
	}
	return nil
}

// insertStandalone performs the standalone path (spec.md §4.E).
func (c *Coordinator) insertStandalone(meta ids.Meta, key, value []byte) error {
	rec := vlog.Record{Version: meta.Version, ExpireAt: meta.ExpireAt, Key: key, Value: value}
	size := uint64(rec.EncodedLen(c.deps.Codec))

	fid := c.deps.Manifest.NextFID()
	vl, err := c.deps.NewValueLog(fid, size)
	if err != nil {
		return err
	}

	ptr, err := vl.Append(rec)
	if err != nil {
		_ = vl.Remove()
		return err
	}

	if err := c.deps.Manifest.Append(manifest.LogEvent{
		FID: fid, TID: c.deps.TID, Kind: manifest.KindCreate, Subtype: manifest.SubtypeValueLog,
	}); err != nil {
		_ = vl.Remove()
		return err
	}
	// A standalone value log holds exactly one record and is never
	// appended to again: sealed at birth.
	_ = vl.Seal()
	c.registerValueLog(fid, vl)

	checksum, err := c.entryChecksum(vl, ptr)
	if err != nil {
		_ = vl.Remove()
		c.invalidateValueLog(fid)
		return err
	}

	if err := c.inlinePath(meta, func(l *alog.ActiveLog) error { return l.InsertPointer(meta, key, ptr, checksum) }); err != nil {
		_ = vl.Remove()
		c.invalidateValueLog(fid)
		return err
	}
	return nil
}

// entryChecksum computes the integrity hash the active log stores
// alongside ptr, over the exact value-log bytes just written for it.
func (c *Coordinator) entryChecksum(vl *vlog.ValueLog, ptr ids.Pointer) (uint64, error) {
	raw, err := vl.ReadRange(ptr.Offset, ptr.Size)
	if err != nil {
		return 0, err
	}
	return vlog.EntryChecksum(raw), nil
}

func isNotEnoughSpace(err error) bool {
	if err == nil {
		return false
	}
	var nes *vlog.NotEnoughSpace
	return errors.As(err, &nes)
}
