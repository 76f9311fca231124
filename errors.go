package ledgerkv

import "github.com/pkg/errors"

var (
	// ErrLocked is returned by Open when Options.Lock is set and another
	// process already holds the directory's advisory lock.
	ErrLocked = errors.New("ledgerkv: database directory is locked by another process")
	// ErrTableNotFound is returned by Table/DropTable for a name with no
	// live table.
	ErrTableNotFound = errors.New("ledgerkv: table not found")
	// ErrTableExists is returned by CreateTable for a name already bound
	// to a live table.
	ErrTableExists = errors.New("ledgerkv: table already exists")
	// ErrClosed is returned by any DB or Table operation after Close.
	ErrClosed = errors.New("ledgerkv: closed")
	// ErrTTLDisabled is returned by Table.Insert for a non-zero expireAt
	// on a database opened with Options.TTLEnabled false.
	ErrTTLDisabled = errors.New("ledgerkv: TTL support is not enabled for this database")
)
