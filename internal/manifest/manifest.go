// Package manifest implements the append-only event log of
// table/file creation and deletion, its in-memory snapshot, and the
// compaction (rewrite) policy that keeps the on-disk log from growing
// without bound.
package manifest

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// Options configures a Manifest.
type Options struct {
	// Version is the 16-bit magic negotiated with the append-log framing.
	Version uint16
	// RewriteThreshold is the deletions count above which a rewrite is
	// considered, per the policy in spec.md §4.D.
	RewriteThreshold uint64
	Log              *logrus.Logger
}

// Manifest owns the on-disk event log for one database directory and the
// in-memory snapshot it replays into.
type Manifest struct {
	mu   sync.Mutex
	dir  string
	opts Options
	log  *appendLog
	snap *Snapshot

	nextFID     atomic.Uint64
	nextTableID atomic.Uint32
}

// Open replays an existing MANIFEST file, or creates an empty one if the
// directory has none yet.
func Open(dir string, opts Options) (*Manifest, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	path := manifestPath(dir)

	m := &Manifest{dir: dir, opts: opts, snap: NewSnapshot()}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		al, err := createAppendLog(path, opts.Version)
		if err != nil {
			return nil, err
		}
		m.log = al
	} else if err != nil {
		return nil, errors.Wrap(err, "manifest: stat")
	} else {
		al, err := openAppendLog(path, opts.Version)
		if err != nil {
			return nil, err
		}
		m.log = al
		if err := m.replay(); err != nil {
			al.close()
			return nil, err
		}
	}

	m.nextFID.Store(uint64(m.snap.LastFID()))
	m.nextTableID.Store(uint32(m.snap.LastTableID()))
	return m, nil
}

func (m *Manifest) replay() error {
	return m.log.replay(func(payload []byte) error {
		ev, err := DecodeEvent(payload)
		if err != nil {
			return errors.Wrap(err, "manifest: replay decode")
		}
		if err := m.snap.validate(ev); err != nil {
			return errors.Wrapf(ErrCorrupt, "manifest: replay validate: %v", err)
		}
		m.snap.apply(ev)
		return nil
	})
}

// NextFID returns a fresh, process-wide-unique file id, strictly greater
// than any FID observed in the replayed snapshot at open time.
func (m *Manifest) NextFID() ids.FID {
	return ids.FID(m.nextFID.Inc())
}

// NextTableID returns a fresh, process-wide-unique table id, strictly
// greater than any TID observed in the replayed snapshot at open time.
func (m *Manifest) NextTableID() ids.TID {
	return ids.TID(m.nextTableID.Inc())
}

// Snapshot returns a read-only view of the current live state. Callers
// must not mutate the returned maps.
func (m *Manifest) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Append validates ev against the live snapshot, appends it to the
// on-disk log if valid, applies it to the snapshot, and then evaluates
// the rewrite policy.
func (m *Manifest) Append(ev Event) error {
	return m.BatchAppend([]Event{ev})
}

// BatchAppend validates every event in the batch against a scratch copy
// of the snapshot (with earlier records in the same batch already
// applied), and only if every one of them validates does it write them
// to disk and apply them to the live snapshot. A failure anywhere in the
// batch leaves both the disk log and the live snapshot untouched.
func (m *Manifest) BatchAppend(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	scratch := m.snap.clone()
	payloads := make([][]byte, len(events))
	for i, ev := range events {
		if err := scratch.validate(ev); err != nil {
			return err
		}
		scratch.apply(ev)
		payload, err := EncodeEvent(ev)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}

	startOffset, err := m.log.offset()
	if err != nil {
		return errors.Wrap(err, "manifest: read offset before batch")
	}

	for _, payload := range payloads {
		if err := m.log.append(payload); err != nil {
			if terr := m.log.truncateTo(startOffset); terr != nil {
				m.opts.Log.WithError(terr).Error("manifest: failed to truncate partial batch after append error")
			}
			return errors.Wrap(err, "manifest: append batch")
		}
	}
	m.snap = scratch

	if m.snap.shouldRewrite(m.opts.RewriteThreshold) {
		if err := m.rewriteLocked(); err != nil {
			m.opts.Log.WithError(err).Warn("manifest: rewrite failed, continuing on unrewritten log")
		}
	}
	return nil
}

// rewriteLocked materializes the current snapshot as a sequence of
// creation events, writes them to a fresh manifest file, and atomically
// replaces the live log. Caller must hold m.mu.
func (m *Manifest) rewriteLocked() error {
	events := m.snap.liveEvents()
	newLog, err := rewriteAtomic(manifestPath(m.dir), m.opts.Version, events)
	if err != nil {
		return err
	}
	if err := m.log.close(); err != nil {
		m.opts.Log.WithError(err).Warn("manifest: close of pre-rewrite log handle failed")
	}
	m.log = newLog

	fresh := NewSnapshot()
	for _, ev := range events {
		fresh.apply(ev)
	}
	fresh.lastFID = m.snap.lastFID
	fresh.lastTableID = m.snap.lastTableID
	m.snap = fresh
	return nil
}

// Close releases the underlying file handle.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.close()
}
