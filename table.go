package ledgerkv

import (
	"time"

	"github.com/zhukovaskychina/ledgerkv/internal/coordinator"
	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// Table is one named, independently-versioned key space within a DB,
// backed by its own single-writer coordinator and chain of active logs.
type Table struct {
	db    *DB
	name  string
	tid   ids.TID
	coord *coordinator.Coordinator
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Insert writes value under key at version. expireAt is a Unix-seconds
// deadline after which the entry reads back as absent, or 0 for no
// expiry; it is rejected up front if this database was opened without
// TTL support.
func (t *Table) Insert(version uint64, key, value []byte, expireAt uint64) error {
	if expireAt != 0 && !t.db.codec.TTLEnabled {
		return ErrTTLDisabled
	}
	return t.coord.Insert(version, key, value, expireAt)
}

// Remove inserts a tombstone for key at version, shadowing every older
// version without erasing them.
func (t *Table) Remove(version uint64, key []byte) error {
	return t.coord.Remove(version, key)
}

// Get returns the newest value of key visible at version, i.e. the
// newest write whose own version is <= version. ok is false if no live
// (non-tombstoned, non-expired) version of key exists at or below
// version.
func (t *Table) Get(version uint64, key []byte) ([]byte, bool, error) {
	res, ok, err := t.lookup(version, key, uint64(time.Now().Unix()))
	if err != nil || !ok {
		return nil, false, err
	}
	return res.Value, true, nil
}

// ContainsKey reports whether Get(version, key) would succeed.
func (t *Table) ContainsKey(version uint64, key []byte) (bool, error) {
	_, ok, err := t.Get(version, key)
	return ok, err
}
