// Package ledgerkv is an embedded, multi-table, versioned key-value
// storage engine: a write-ahead active log for keys plus a separate
// value log for large values, coordinated by a manifest that names
// files and survives restarts.
package ledgerkv

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/ledgerkv/internal/alog"
	"github.com/zhukovaskychina/ledgerkv/internal/coordinator"
	"github.com/zhukovaskychina/ledgerkv/internal/ids"
	"github.com/zhukovaskychina/ledgerkv/internal/manifest"
	"github.com/zhukovaskychina/ledgerkv/internal/vlog"
)

// DB owns one directory's worth of manifest, tables, and the
// process-wide value-log handle cache shared across them.
type DB struct {
	opts     Options
	dir      string
	manifest *manifest.Manifest
	vlogs    *vlog.Cache
	codec    ids.Codec
	lockFile *os.File

	mu     sync.Mutex
	tables map[string]*Table
	closed bool
}

// Open opens (creating if necessary) the database rooted at opts.Dir. If
// opts.InMemory is set, active logs and value logs stay in memory, but
// the manifest is still a file under opts.Dir (the working directory
// when opts.Dir is empty).
func Open(opts Options) (*DB, error) {
	if opts.Log == nil {
		opts = withDefaultLog(opts)
	}
	if !opts.InMemory {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "ledgerkv: create directory")
		}
	}

	db := &DB{
		opts:   opts,
		dir:    opts.Dir,
		codec:  ids.Codec{TTLEnabled: opts.TTLEnabled},
		tables: make(map[string]*Table),
	}

	if opts.Lock && !opts.InMemory {
		lockPath := filepath.Join(opts.Dir, "LOCK")
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "ledgerkv: open lock file")
		}
		if err := flockExclusive(f); err != nil {
			f.Close()
			return nil, err
		}
		db.lockFile = f
	}

	m, err := manifest.Open(opts.Dir, manifest.Options{
		Version:          opts.Version,
		RewriteThreshold: opts.RewriteThreshold,
		Log:              opts.Log,
	})
	if err != nil {
		db.releaseLock()
		return nil, err
	}
	db.manifest = m

	cacheSize := opts.VlogCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	db.vlogs = vlog.NewCache(cacheSize, db.openValueLogForRead)

	if err := db.resumeTables(); err != nil {
		m.Close()
		db.releaseLock()
		return nil, err
	}

	return db, nil
}

func withDefaultLog(opts Options) Options {
	d := DefaultOptions()
	opts.Log = d.Log
	return opts
}

func (db *DB) releaseLock() {
	if db.lockFile != nil {
		funlock(db.lockFile)
		db.lockFile.Close()
	}
}

// resumeTables reconstructs a Table (and its coordinator) for every live
// table the manifest replayed at open.
func (db *DB) resumeTables() error {
	snap := db.manifest.Snapshot()
	for tid, tm := range snapshotTables(snap) {
		t, err := db.resumeTable(tid, tm)
		if err != nil {
			return err
		}
		db.tables[tm.Name] = t
	}
	return nil
}

// snapshotTables exposes the manifest snapshot's table map for iteration;
// kept as a small indirection so db.go never reaches into manifest
// internals directly.
func snapshotTables(snap *manifest.Snapshot) map[ids.TID]*manifest.TableManifest {
	out := make(map[ids.TID]*manifest.TableManifest)
	for _, tid := range snap.TableIDs() {
		out[tid] = snap.Table(tid)
	}
	return out
}

// resumeTable reconstructs a Table for a table the manifest already
// knows about. Its previous active logs are not reopened for writing:
// recovering a skip list's node chain from a reopened arena requires
// knowing how many bytes of it were committed, and this package (like
// the spec it follows) has no persisted record of that length or any
// frozen-log/compaction step that would turn old entries into a
// durable, query-able structure first. A fresh active log is minted
// instead, exactly as CreateTable does for a brand-new table; the old
// files stay on disk, still listed under the table in the manifest,
// available to out-of-process recovery tooling but not to this reader.
func (db *DB) resumeTable(tid ids.TID, tm *manifest.TableManifest) (*Table, error) {
	return db.newTableCoordinator(tid, tm.Name)
}

func (db *DB) newTableCoordinator(tid ids.TID, name string) (*Table, error) {
	deps := db.coordinatorDeps(tid)
	c, err := coordinator.New(deps)
	if err != nil {
		return nil, err
	}
	return &Table{db: db, name: name, tid: tid, coord: c}, nil
}

func (db *DB) coordinatorDeps(tid ids.TID) coordinator.Deps {
	return coordinator.Deps{
		Manifest:           db.manifest,
		TID:                tid,
		NewActiveLog:       db.newActiveLog,
		NewValueLog:        db.newValueLog,
		RegisterValueLog:   db.vlogs.Put,
		InvalidateValueLog: db.vlogs.Invalidate,
		ValueThreshold:     db.opts.ValueThreshold,
		BigValueThreshold:  db.opts.BigValueThreshold,
		VlogSize:           db.opts.VlogSize,
		Codec:              db.codec,
		QueueSize:          db.opts.WriteQueueSize,
		Log:                db.opts.Log,
	}
}

func (db *DB) newActiveLog(fid ids.FID) (*alog.ActiveLog, error) {
	size := db.opts.LogSize
	if size == 0 {
		size = 2 << 30
	}
	buf, err := db.allocActiveLogBuffer(fid, size)
	if err != nil {
		return nil, err
	}
	return alog.New(buf, alog.Options{
		Codec:        db.codec,
		MaxKeySize:   db.opts.MaxKeySize,
		MaxValueSize: db.opts.MaxValueSize,
	})
}

func (db *DB) newValueLog(fid ids.FID, capacity uint64) (*vlog.ValueLog, error) {
	if db.opts.InMemory {
		return vlog.Create(fid, "", capacity, vlog.Options{InMemory: true, Codec: db.codec})
	}
	return vlog.Create(fid, valueLogPath(db.dir, fid), capacity, vlog.Options{Codec: db.codec})
}

// openValueLogForRead is the cache's Opener for a value log this process
// did not create itself (or evicted since): it reopens the file and
// reports its on-disk size as the logical length. That is exact for a
// standalone value log, whose capacity is sized to the single record it
// holds. A shared value log is only ever handed to the cache after it is
// sealed (see Coordinator.ReadCurrent and the registration calls in
// internal/coordinator), at which point its file has already been
// truncated down to the bytes actually written plus Seal's 4-byte
// checksum trailer, so every record a pointer addresses lies within the
// reported length -- nothing still being appended to ever reaches this path,
// since the coordinator answers reads against such a log directly.
func (db *DB) openValueLogForRead(fid ids.FID) (*vlog.ValueLog, error) {
	if db.opts.InMemory {
		return nil, errors.New("ledgerkv: in-memory value logs are never reopened from the cache")
	}
	path := valueLogPath(db.dir, fid)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "ledgerkv: stat value log file")
	}
	return vlog.Open(fid, path, uint64(fi.Size()), vlog.Options{Codec: db.codec})
}

func (db *DB) allocActiveLogBuffer(fid ids.FID, size uint64) ([]byte, error) {
	if db.opts.InMemory {
		return make([]byte, size), nil
	}
	f, err := os.OpenFile(activeLogPath(db.dir, fid), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "ledgerkv: create active log file")
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return nil, errors.Wrap(err, "ledgerkv: truncate active log file")
	}
	return mmapActiveLog(f, size)
}

// CreateTable registers a brand-new table with the given name and starts
// its write coordinator.
func (db *DB) CreateTable(name string) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if _, ok := db.tables[name]; ok {
		return nil, ErrTableExists
	}

	tid := db.manifest.NextTableID()
	if err := db.manifest.Append(manifest.TableEvent{TID: tid, Name: name, Kind: manifest.KindCreate}); err != nil {
		return nil, err
	}
	t, err := db.newTableCoordinator(tid, name)
	if err != nil {
		return nil, err
	}
	db.tables[name] = t
	return t, nil
}

// Table returns the already-open table named name, or ErrTableNotFound.
func (db *DB) Table(name string) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	t, ok := db.tables[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// DropTable records a deletion event for name and stops accepting writes
// to it; already-open *Table handles become unusable.
func (db *DB) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	t, ok := db.tables[name]
	if !ok {
		return ErrTableNotFound
	}
	if err := db.manifest.Append(manifest.TableEvent{TID: t.tid, Name: name, Kind: manifest.KindDelete}); err != nil {
		return err
	}
	delete(db.tables, name)
	return t.coord.Close()
}

// UnreferencedValueLogs reports, per live table, the value-log FIDs the
// manifest's current snapshot still lists as owned by that table but that
// none of the table's currently-open active logs hold a KindPointer entry
// into anymore -- files a garbage collector could reclaim. It only sees
// the active logs this process currently has open: active logs from
// before the most recent resume are never reopened for reading (see
// resumeTable), so immediately after a restart this necessarily
// undercounts what it would report with full history. No policy drives
// reclamation automatically; the spec leaves GC out of scope and this is
// purely a reporting hook.
func (db *DB) UnreferencedValueLogs() []ids.FID {
	db.mu.Lock()
	tables := make([]*Table, 0, len(db.tables))
	for _, t := range db.tables {
		tables = append(tables, t)
	}
	db.mu.Unlock()

	snap := db.manifest.Snapshot()
	var out []ids.FID
	for _, t := range tables {
		tm := snap.Table(t.tid)
		if tm == nil {
			continue
		}
		referenced := make(map[ids.FID]struct{})
		for _, l := range t.coord.ActiveLogs() {
			_ = l.Each(func(e alog.Entry) error {
				if e.Kind == alog.KindPointer {
					referenced[e.Pointer.FID] = struct{}{}
				}
				return nil
			})
		}
		for fid := range tm.ValueLogs {
			if _, ok := referenced[fid]; !ok {
				out = append(out, fid)
			}
		}
	}
	return out
}

// Close stops every table's writer goroutine, closes the manifest, and
// releases the advisory directory lock.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	for _, t := range db.tables {
		if err := t.coord.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.releaseLock()
	return firstErr
}
