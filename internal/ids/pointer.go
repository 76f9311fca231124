package ids

import "encoding/binary"

// PointerSize is the fixed encoded width of a Pointer.
const PointerSize = 16

const (
	pointerFidMask       uint64 = 1<<63 - 1
	pointerTombstoneFlag uint64 = 1 << 63
)

// Pointer addresses a value-log record: the file that holds it, the byte
// offset the record starts at, and the record's total encoded length. The
// tombstone bit mirrors the target record's VMeta tombstone marker so a
// reader can detect deletion without a value-log read, but per spec it is
// never set by a writer today -- Encode always emits zero for it, and
// Decode treats a set bit as corruption rather than silently clearing it.
type Pointer struct {
	FID       FID
	Offset    uint32
	Size      uint32
	Tombstone bool
}

// Encode writes p into buf, which must be at least PointerSize bytes.
func (p Pointer) Encode(buf []byte) (int, error) {
	if p.FID > MaxFID {
		return 0, ErrFidTooLarge
	}
	if len(buf) < PointerSize {
		return 0, ErrInsufficientBuffer
	}
	word := uint64(p.FID)
	if p.Tombstone {
		word |= pointerTombstoneFlag
	}
	binary.LittleEndian.PutUint64(buf[0:8], word)
	binary.LittleEndian.PutUint32(buf[8:12], p.Offset)
	binary.LittleEndian.PutUint32(buf[12:16], p.Size)
	return PointerSize, nil
}

// DecodePointer reads a Pointer from buf, which must be at least
// PointerSize bytes. A set tombstone bit is rejected with
// ErrInvalidEntryFlag: no writer in this engine ever sets it on insert,
// so its presence indicates a corrupt or forged pointer.
func DecodePointer(buf []byte) (Pointer, error) {
	if len(buf) < PointerSize {
		return Pointer{}, ErrIncompleteBuffer
	}
	word := binary.LittleEndian.Uint64(buf[0:8])
	tombstone := word&pointerTombstoneFlag != 0
	if tombstone {
		return Pointer{}, ErrInvalidEntryFlag
	}
	fid := FID(word & pointerFidMask)
	offset := binary.LittleEndian.Uint32(buf[8:12])
	size := binary.LittleEndian.Uint32(buf[12:16])
	return Pointer{FID: fid, Offset: offset, Size: size}, nil
}
