// Package vlog implements the write-once, append-only value log
// described in spec.md §3/§4.B: length-delimited (version, key, optional
// value) records addressed by file-id/offset/size pointers, plus the
// process-wide LRU cache of open value-log handles (cache.go).
package vlog

import (
	"hash/crc32"
	"os"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// State is the lifecycle of a value log: Created -> Active -> Sealed ->
// Deleted (spec.md §4.B).
type State int32

const (
	Created State = iota
	Active
	Sealed
	Deleted
)

const trailerSize = 4 // trailing CRC-32 of the value log body, see Seal

// ValueLog is a single append-only value-log file. It is owned
// exclusively by the writing table's coordinator; any number of readers
// may hold a reference and call ReadRange/ReadPointer concurrently with
// the writer.
type ValueLog struct {
	FID      ids.FID
	Path     string
	InMemory bool
	codec    ids.Codec

	mu       sync.Mutex // serializes Append/Rewind/Seal against each other
	file     *os.File
	data     []byte // mmap'd (file-backed) or heap-allocated (in-memory) region
	capacity uint64
	length   atomic.Uint64
	state    atomic.Int32
}

// Options configures how a ValueLog's backing storage is created.
type Options struct {
	InMemory bool
	Codec    ids.Codec
}

// Create creates a new, empty, Active value log of the given capacity.
func Create(fid ids.FID, path string, capacity uint64, opts Options) (*ValueLog, error) {
	vl := &ValueLog{
		FID:      fid,
		Path:     path,
		InMemory: opts.InMemory,
		codec:    opts.Codec,
		capacity: capacity,
	}
	vl.state.Store(int32(Active))

	if opts.InMemory {
		vl.data = make([]byte, capacity)
		return vl, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vlog: create %s", path)
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "vlog: truncate %s", path)
	}
	data, err := mmapFile(f, int(capacity), true)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "vlog: mmap %s", path)
	}
	vl.file = f
	vl.data = data
	return vl, nil
}

// Open reopens an existing value log file as Sealed (read-only). If the
// file carries a trailing CRC-32 of its body (written by a prior Seal),
// it is validated; a mismatch returns ErrChecksumInvalid.
func Open(fid ids.FID, path string, logicalLength uint64, opts Options) (*ValueLog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "vlog: stat %s", path)
	}
	fileSize := uint64(info.Size())

	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vlog: open %s", path)
	}
	data, err := mmapFile(f, int(fileSize), false)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "vlog: mmap %s", path)
	}

	vl := &ValueLog{
		FID:      fid,
		Path:     path,
		codec:    opts.Codec,
		capacity: fileSize,
		file:     f,
		data:     data,
	}
	vl.length.Store(logicalLength)
	vl.state.Store(int32(Sealed))

	if fileSize >= logicalLength+trailerSize {
		trailer := data[logicalLength : logicalLength+trailerSize]
		want := leUint32(trailer)
		got := crc32.ChecksumIEEE(data[:logicalLength])
		if want != 0 && want != got {
			munmapFile(data)
			f.Close()
			return nil, ErrChecksumInvalid
		}
	}
	return vl, nil
}

// Len returns the current logical length of the value log.
func (vl *ValueLog) Len() uint64 {
	return vl.length.Load()
}

// Capacity returns the value log's fixed maximum size.
func (vl *ValueLog) Capacity() uint64 {
	return vl.capacity
}

// State returns the value log's current lifecycle state.
func (vl *ValueLog) State() State {
	return State(vl.state.Load())
}

// Append encodes rec and writes it at the current logical end of the
// file, returning a Pointer describing where it landed. If the record
// would not fit within capacity, the file is left unmodified and
// *NotEnoughSpace is returned.
func (vl *ValueLog) Append(rec Record) (ids.Pointer, error) {
	vl.mu.Lock()
	defer vl.mu.Unlock()

	if vl.State() != Active {
		return ids.Pointer{}, ErrReadOnly
	}

	encLen := uint64(rec.EncodedLen(vl.codec))
	cur := vl.length.Load()
	if cur+encLen > vl.capacity {
		return ids.Pointer{}, &NotEnoughSpace{
			Required:  encLen,
			Remaining: vl.capacity - cur,
		}
	}

	n, err := rec.Encode(vl.data[cur:cur+encLen], vl.codec)
	if err != nil {
		return ids.Pointer{}, err
	}
	vl.length.Store(cur + uint64(n))

	return ids.Pointer{FID: vl.FID, Offset: uint32(cur), Size: uint32(n)}, nil
}

// ReadRange returns a borrowed view of the bytes [offset, offset+size)
// of the mapped file, failing ErrOutOfBound if the range exceeds the
// logical length.
func (vl *ValueLog) ReadRange(offset, size uint32) ([]byte, error) {
	end := uint64(offset) + uint64(size)
	if end > vl.length.Load() {
		return nil, ErrOutOfBound
	}
	return vl.data[offset:end], nil
}

// ReadPointer reads and decodes the record addressed by ptr.
func (vl *ValueLog) ReadPointer(ptr ids.Pointer) (Record, error) {
	raw, err := vl.ReadRange(ptr.Offset, ptr.Size)
	if err != nil {
		return Record{}, err
	}
	rec, _, err := DecodeRecord(raw, vl.codec)
	return rec, err
}

// ReadPointerChecked reads the record addressed by ptr and verifies it
// against checksum -- the value EntryChecksum produced over these same
// bytes when the active-log entry pointing at ptr was committed -- before
// decoding it. A mismatch means the value log bytes a pointer addresses
// have silently changed since that commit, and returns
// ErrEntryChecksumMismatch rather than a decoded (and untrustworthy) Record.
func (vl *ValueLog) ReadPointerChecked(ptr ids.Pointer, checksum uint64) (Record, error) {
	raw, err := vl.ReadRange(ptr.Offset, ptr.Size)
	if err != nil {
		return Record{}, err
	}
	if EntryChecksum(raw) != checksum {
		return Record{}, ErrEntryChecksumMismatch
	}
	rec, _, err := DecodeRecord(raw, vl.codec)
	return rec, err
}

// Rewind atomically shrinks the logical length back to offset, undoing a
// write that the caller failed to commit into the active log. offset must
// be a previously observed length; it is never validated against record
// boundaries since the caller is the only writer and knows the boundary
// it is rewinding to.
func (vl *ValueLog) Rewind(offset uint64) error {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	if vl.State() != Active {
		return ErrReadOnly
	}
	vl.length.Store(offset)
	return nil
}

// Sync flushes pending writes to stable storage.
func (vl *ValueLog) Sync() error {
	if vl.InMemory {
		return nil
	}
	return msyncFile(vl.data)
}

// Seal transitions the value log to Sealed, refusing further appends. For
// file-backed logs it writes a trailing CRC-32 (IEEE) of the logical body
// immediately after the current length, so a later Open can detect
// truncation introduced by a crash between the append and a flush. The
// checksum is a best-effort addition: the spec does not require it, and
// its absence (e.g. an in-memory log, or a file too short to hold it) is
// not itself an error.
//
// Seal also truncates the file down to the bytes actually written (body
// plus trailer, if one was written). A value log's reserved capacity is
// otherwise much larger than its eventual logical length -- VlogSize
// default 2GiB for a shared log -- and a later Open reopening it purely
// from its path has nothing but the file's size to go on; truncating at
// seal time is what makes that size trustworthy.
func (vl *ValueLog) Seal() error {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	if vl.State() == Sealed || vl.State() == Deleted {
		return nil
	}

	if !vl.InMemory {
		length := vl.length.Load()
		newSize := length
		if length+trailerSize <= vl.capacity {
			sum := crc32.ChecksumIEEE(vl.data[:length])
			putLeUint32(vl.data[length:length+trailerSize], sum)
			newSize = length + trailerSize
		}
		if err := vl.Sync(); err != nil {
			return err
		}
		if newSize < vl.capacity {
			if err := vl.file.Truncate(int64(newSize)); err != nil {
				return errors.Wrap(err, "vlog: truncate sealed file")
			}
			vl.capacity = newSize
		}
	}

	vl.state.Store(int32(Sealed))
	return nil
}

// Close releases the value log's underlying resources. It does not seal
// the log; call Seal first if a checksum trailer is wanted.
func (vl *ValueLog) Close() error {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	vl.state.Store(int32(Deleted))
	if vl.InMemory {
		vl.data = nil
		return nil
	}
	var err error
	if vl.data != nil {
		err = munmapFile(vl.data)
		vl.data = nil
	}
	if vl.file != nil {
		if cerr := vl.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Remove closes and deletes the value log's backing file (if any). It is
// the coordinator's undo for a value log that was created but never
// successfully committed to the manifest or active log.
func (vl *ValueLog) Remove() error {
	if err := vl.Close(); err != nil {
		return err
	}
	if vl.InMemory || vl.Path == "" {
		return nil
	}
	return os.Remove(vl.Path)
}

// EntryChecksum computes the integrity hash the active log stores
// alongside a pointer-valued entry (spec.md §4.B: "integrity is provided
// by the active-log's per-entry checksum over the value-log-bytes-that-
// form-the-pointer"). The write coordinator calls this immediately after
// a successful Append, over the exact bytes just written, and the active
// log stores the result alongside the pointer; ReadPointerChecked
// recomputes it on read.
func EntryChecksum(raw []byte) uint64 {
	return xxhash.Checksum64(raw)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
