package manifest

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// frame magic + version negotiated with the append-log format; the wire
// layout isn't pinned by spec.md, so this core defines its own: a 4-byte
// magic, a caller-supplied 16-bit version, a 32-bit payload length, a
// Castagnoli CRC-32 of the payload, then the payload itself.
const frameMagic uint32 = 0x4c454447 // "LEDG"

const frameHeaderSize = 4 + 2 + 4 + 4 // magic + version + length + crc

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// appendLog is a single append-only file of length-prefixed, checksummed
// frames, reused by the manifest for both its live log and its rewrite
// staging file.
type appendLog struct {
	path    string
	version uint16
	file    *os.File
}

func createAppendLog(path string, version uint16) (*appendLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: create append log")
	}
	return &appendLog{path: path, version: version, file: f}, nil
}

func openAppendLog(path string, version uint16) (*appendLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: open append log")
	}
	return &appendLog{path: path, version: version, file: f}, nil
}

// append writes payload as one frame and fsyncs it before returning, so a
// crash after a successful append never loses the record.
func (l *appendLog) append(payload []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], frameMagic)
	binary.BigEndian.PutUint16(header[4:6], l.version)
	binary.BigEndian.PutUint32(header[6:10], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[10:14], crc32.Checksum(payload, crcTable))

	if _, err := l.file.Write(header); err != nil {
		return errors.Wrap(err, "manifest: write frame header")
	}
	if _, err := l.file.Write(payload); err != nil {
		return errors.Wrap(err, "manifest: write frame payload")
	}
	return l.file.Sync()
}

// replay invokes fn for every frame's payload, in file order.
func (l *appendLog) replay(fn func(payload []byte) error) error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "manifest: seek for replay")
	}
	header := make([]byte, frameHeaderSize)
	for {
		_, err := io.ReadFull(l.file, header)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(ErrCorrupt, "manifest: truncated frame header")
		}
		magic := binary.BigEndian.Uint32(header[0:4])
		ver := binary.BigEndian.Uint16(header[4:6])
		length := binary.BigEndian.Uint32(header[6:10])
		wantCRC := binary.BigEndian.Uint32(header[10:14])
		if magic != frameMagic || ver != l.version {
			return errors.Wrap(ErrCorrupt, "manifest: bad frame magic or version")
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(l.file, payload); err != nil {
			return errors.Wrap(ErrCorrupt, "manifest: truncated frame payload")
		}
		if crc32.Checksum(payload, crcTable) != wantCRC {
			return errors.Wrap(ErrCorrupt, "manifest: frame checksum mismatch")
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
}

// offset reports the append log's current write position, i.e. how many
// bytes of it are committed so far.
func (l *appendLog) offset() (int64, error) {
	return l.file.Seek(0, io.SeekEnd)
}

// truncateTo discards everything written past offset, undoing a partial
// batch that failed partway through (mirrors vlog.ValueLog.Rewind's
// undo-on-failure idiom). offset must be a previously observed offset
// from this same log.
func (l *appendLog) truncateTo(offset int64) error {
	if err := l.file.Truncate(offset); err != nil {
		return errors.Wrap(err, "manifest: truncate partial batch")
	}
	if _, err := l.file.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrap(err, "manifest: seek after truncating partial batch")
	}
	return l.file.Sync()
}

func (l *appendLog) sync() error { return l.file.Sync() }
func (l *appendLog) close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// rewriteAtomic writes events to a sibling temp file as a fresh append
// log, then renames it over path, replacing the live log atomically.
func rewriteAtomic(path string, version uint16, events []Event) (*appendLog, error) {
	tmpPath := path + ".rewrite-tmp"
	_ = os.Remove(tmpPath)

	tmp, err := createAppendLog(tmpPath, version)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		payload, err := EncodeEvent(ev)
		if err != nil {
			tmp.close()
			os.Remove(tmpPath)
			return nil, err
		}
		if err := tmp.append(payload); err != nil {
			tmp.close()
			os.Remove(tmpPath)
			return nil, err
		}
	}
	if err := tmp.close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, errors.Wrap(err, "manifest: rewrite rename")
	}
	return openAppendLog(path, version)
}

func manifestPath(dir string) string {
	return filepath.Join(dir, "MANIFEST")
}
