package manifest

import "github.com/pkg/errors"

var (
	// ErrTableNotFound is returned when a log event or delete_table
	// references a table id that is not present in the snapshot.
	ErrTableNotFound = errors.New("manifest: table not found")
	// ErrTableAlreadyExists is returned when create_table names a table
	// that collides with another un-removed table's name.
	ErrTableAlreadyExists = errors.New("manifest: table already exists")
	// ErrReservedTable is returned when create_table uses the reserved
	// default table name.
	ErrReservedTable = errors.New("manifest: reserved table name")
	// ErrDuplicateTableId is returned when create_table reuses an id
	// already bound to a different name.
	ErrDuplicateTableId = errors.New("manifest: duplicate table id")
	// ErrInvalidEntryFlag is returned for a flag byte outside the
	// enumerated creation/deletion x subtype combinations.
	ErrInvalidEntryFlag = errors.New("manifest: invalid entry flag")
	// ErrCorrupt wraps a validation failure encountered during replay,
	// which is always fatal: the file is corrupt.
	ErrCorrupt = errors.New("manifest: corrupt log")
	// ErrClosed is returned by any operation on a manifest after Close.
	ErrClosed = errors.New("manifest: closed")
)
