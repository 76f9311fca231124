package ledgerkv

import (
	"github.com/zhukovaskychina/ledgerkv/internal/alog"
)

// Result is the read path's outcome for a found, live key: either an
// inline value or one dereferenced through a value log, plus the
// version and expiry it was written with.
type Result struct {
	Version  uint64
	ExpireAt uint64
	Value    []byte
}

// lookup implements the read path (spec.md §4.F): scan a table's active
// logs from newest to oldest, skipping a log whose MinVersion is above
// version,
// stop at the first entry found for key, dereference a pointer entry
// through the value-log cache, and treat a tombstone or an expired TTL
// as "not found".
func (t *Table) lookup(version uint64, key []byte, now uint64) (Result, bool, error) {
	logs := t.coord.ActiveLogs()
	for i := len(logs) - 1; i >= 0; i-- {
		entry, found, err := getFromLog(logs[i], version, key)
		if err != nil {
			return Result{}, false, err
		}
		if !found {
			continue
		}
		if entry.Kind == alog.KindTombstone {
			return Result{}, false, nil
		}
		res, err := t.materialize(entry)
		if err != nil {
			return Result{}, false, err
		}
		if res.ExpireAt != 0 && res.ExpireAt <= now {
			return Result{}, false, nil
		}
		return res, true, nil
	}
	return Result{}, false, nil
}

// getFromLog applies the MinVersion short-circuit spec.md §4.F names as
// an optional optimization before falling through to a real lookup
// against the log's skip list.
func getFromLog(l *alog.ActiveLog, version uint64, key []byte) (alog.Entry, bool, error) {
	if l.HasEntries() && version < l.MinVersion() {
		return alog.Entry{}, false, nil
	}
	return l.Get(version, key)
}

// materialize turns a live (non-tombstone) entry into a Result. A
// pointer entry is read first against the coordinator's current
// writable value log directly (ReadCurrent) -- the handle for that log
// is never registered in the shared cache until it is sealed, so this
// is the only way to reach it -- and falls back to the cache for any
// already-sealed value log.
func (t *Table) materialize(entry alog.Entry) (Result, error) {
	if entry.Kind == alog.KindInline {
		return Result{Version: entry.Meta.Version, ExpireAt: entry.Meta.ExpireAt, Value: entry.Inline}, nil
	}

	ptr := entry.Pointer

	if rec, ok, err := t.coord.ReadCurrent(ptr, entry.Checksum); ok {
		if err != nil {
			return Result{}, err
		}
		if rec.Tombstone {
			return Result{}, nil
		}
		return Result{Version: rec.Version, ExpireAt: rec.ExpireAt, Value: rec.Value}, nil
	}

	h, err := t.db.vlogs.Get(ptr.FID)
	if err != nil {
		return Result{}, err
	}
	defer t.db.vlogs.Release(h)

	rec, err := h.ValueLog().ReadPointerChecked(ptr, entry.Checksum)
	if err != nil {
		return Result{}, err
	}
	if rec.Tombstone {
		return Result{}, nil
	}
	return Result{Version: rec.Version, ExpireAt: rec.ExpireAt, Value: rec.Value}, nil
}
