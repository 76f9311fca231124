package ledgerkv

import (
	"github.com/sirupsen/logrus"

	"github.com/zhukovaskychina/ledgerkv/logger"
)

// Options configures a DB. Zero value is not directly usable; start from
// DefaultOptions and override only the fields that matter to the
// caller, mirroring spec.md §6's enumerated configuration surface.
type Options struct {
	// InMemory, if true, backs every active log and value log with a
	// heap buffer instead of a memory-mapped file. The manifest is
	// always a real file, even in this mode: with an empty Dir it is
	// created as MANIFEST in the process's working directory.
	InMemory bool

	// Dir is the directory the database's files live in.
	Dir string

	// LogSize is the arena size of a freshly created active log.
	LogSize uint64
	// VlogSize is the capacity of a freshly created shared value log.
	VlogSize uint64

	// ValueThreshold is the inline/shared-vlog cutoff: values at or
	// above this size are written through the shared value log instead
	// of inlined in the active log.
	ValueThreshold uint64
	// BigValueThreshold is the shared/standalone cutoff: values at or
	// above this size get their own dedicated value log file.
	BigValueThreshold uint64

	// SyncOnWrite is carried in Options but not read by this package:
	// active-log and value-log writes are not flushed per write whatever
	// its value. (Manifest appends are always fsynced.)
	SyncOnWrite bool
	// Lock takes an advisory exclusive file lock on Dir for the
	// lifetime of the DB when true.
	Lock bool

	// RewriteThreshold is the manifest's deletions-count compaction
	// trigger (spec.md §4.D's rewrite policy).
	RewriteThreshold uint64
	// Version is the manifest's 16-bit magic, used to detect a log
	// written by an incompatible version of this package.
	Version uint16

	// TTLEnabled switches every Meta between its 8-byte (no TTL) and
	// 16-byte (TTL) wire encoding; it cannot be changed after the first
	// open of a given directory.
	TTLEnabled bool

	// MaxKeySize and MaxValueSize cap the size of a key and of an
	// active-log value-encoding (the value plus a one-byte kind tag, or a
	// pointer encoding), enforced by the active log before any write
	// touches the arena. Zero means unbounded.
	MaxKeySize   int
	MaxValueSize int

	// Log receives the manifest's log output (failed rewrites and failed
	// undo of a partial batch). Open substitutes the DefaultOptions
	// logger (logger.New("info")) when it is nil.
	Log *logrus.Logger

	// VlogCacheSize bounds the process-wide LRU of open value-log
	// handles (spec.md §4.F).
	VlogCacheSize int

	// WriteQueueSize bounds each table's write-request channel
	// (spec.md §5).
	WriteQueueSize int
}

// DefaultOptions returns the spec.md §6 defaults.
func DefaultOptions() Options {
	return Options{
		LogSize:           2 << 30, // 2 GiB
		VlogSize:          2 << 30, // 2 GiB
		ValueThreshold:    1 << 20, // 1 MiB
		BigValueThreshold: 1 << 30, // 1 GiB
		SyncOnWrite:       true,
		Lock:              true,
		RewriteThreshold:  10000,
		Version:           1,
		VlogCacheSize:     256,
		WriteQueueSize:    64,
		Log:               logger.New("info"),
	}
}
