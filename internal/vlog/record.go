package vlog

import (
	"encoding/binary"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// Record is a decoded value-log entry: VMeta plus key and, unless this is
// a tombstone, the value bytes (spec.md §3 "Value log record").
//
// VMeta reuses ids.Meta's wire layout, but the top bit of the version word
// is repurposed here as a tombstone marker rather than a pointer marker --
// a value log never stores pointers, only raw values or deletion intent.
type Record struct {
	Version   uint64
	Tombstone bool
	ExpireAt  uint64
	Key       []byte
	Value     []byte
}

// EncodedLen returns the number of bytes Encode will write for this record
// given a Meta codec.
func (r Record) EncodedLen(codec ids.Codec) int {
	n := codec.Size()
	if r.Tombstone {
		n += 4 // u32 key_len
	} else {
		n += 8 // u64 packed key_len/value_len
	}
	n += len(r.Key)
	if !r.Tombstone {
		n += len(r.Value)
	}
	return n
}

// Encode appends the wire encoding of r to buf using codec, returning the
// number of bytes written.
func (r Record) Encode(buf []byte, codec ids.Codec) (int, error) {
	total := r.EncodedLen(codec)
	if len(buf) < total {
		return 0, ErrOutOfBound
	}

	metaSize := codec.Size()
	vmeta := ids.Meta{Version: r.Version, Pointer: r.Tombstone, ExpireAt: r.ExpireAt}
	if _, err := codec.Encode(buf[:metaSize], vmeta); err != nil {
		return 0, err
	}
	off := metaSize

	if r.Tombstone {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(r.Key)))
		off += 4
		copy(buf[off:], r.Key)
		off += len(r.Key)
		return off, nil
	}

	packed := uint64(len(r.Key))<<32 | uint64(uint32(len(r.Value)))
	binary.LittleEndian.PutUint64(buf[off:off+8], packed)
	off += 8
	copy(buf[off:], r.Key)
	off += len(r.Key)
	copy(buf[off:], r.Value)
	off += len(r.Value)
	return off, nil
}

// DecodeRecord decodes a single Record from buf, which must hold exactly
// (or at least) one record's worth of bytes starting at offset 0.
func DecodeRecord(buf []byte, codec ids.Codec) (Record, int, error) {
	metaSize := codec.Size()
	if len(buf) < metaSize {
		return Record{}, 0, ErrTruncatedRecord
	}
	vmeta, err := codec.Decode(buf[:metaSize])
	if err != nil {
		return Record{}, 0, err
	}
	off := metaSize

	if vmeta.Pointer { // tombstone marker, see type doc
		if len(buf) < off+4 {
			return Record{}, 0, ErrTruncatedRecord
		}
		keyLen := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		if len(buf) < off+int(keyLen) {
			return Record{}, 0, ErrTruncatedRecord
		}
		key := buf[off : off+int(keyLen)]
		off += int(keyLen)
		return Record{
			Version:   vmeta.Version,
			Tombstone: true,
			ExpireAt:  vmeta.ExpireAt,
			Key:       key,
		}, off, nil
	}

	if len(buf) < off+8 {
		return Record{}, 0, ErrTruncatedRecord
	}
	packed := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	keyLen := uint32(packed >> 32)
	valueLen := uint32(packed)
	if len(buf) < off+int(keyLen)+int(valueLen) {
		return Record{}, 0, ErrTruncatedRecord
	}
	key := buf[off : off+int(keyLen)]
	off += int(keyLen)
	value := buf[off : off+int(valueLen)]
	off += int(valueLen)
	return Record{
		Version:  vmeta.Version,
		ExpireAt: vmeta.ExpireAt,
		Key:      key,
		Value:    value,
	}, off, nil
}
