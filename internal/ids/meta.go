package ids

import "encoding/binary"

// MaxVersion is the largest version a caller may assign to a record.
const MaxVersion uint64 = 1<<63 - 1

const (
	versionMask  uint64 = 1<<63 - 1
	pointerFlag  uint64 = 1 << 63
	wordSize            = 8
	metaSizeTTL         = wordSize * 2
	metaSizeNoTTL       = wordSize
)

// Meta is the 8- or 16-byte record header written immediately after the
// user key in the active log: a 63-bit caller-assigned version, a 1-bit
// pointer marker sharing the same word, and (when TTL is enabled) a
// 64-bit expiration in seconds since the epoch, 0 meaning "never expires".
type Meta struct {
	Version  uint64
	Pointer  bool
	ExpireAt uint64
}

// Codec encodes and decodes Meta values with a fixed TTL toggle, since the
// wire size (8 vs 16 bytes) depends on whether TTL support is compiled in
// for this database.
type Codec struct {
	TTLEnabled bool
}

// Size returns the encoded width of a Meta value for this codec.
func (c Codec) Size() int {
	if c.TTLEnabled {
		return metaSizeTTL
	}
	return metaSizeNoTTL
}

// Encode writes m into buf using this codec's width, returning the number
// of bytes written.
func (c Codec) Encode(buf []byte, m Meta) (int, error) {
	if m.Version > MaxVersion {
		return 0, ErrVersionTooLarge
	}
	size := c.Size()
	if len(buf) < size {
		return 0, ErrInsufficientBuffer
	}
	word := m.Version
	if m.Pointer {
		word |= pointerFlag
	}
	binary.LittleEndian.PutUint64(buf, word)
	if c.TTLEnabled {
		binary.LittleEndian.PutUint64(buf[wordSize:], m.ExpireAt)
	}
	return size, nil
}

// Decode reads a Meta value from buf using this codec's width.
func (c Codec) Decode(buf []byte) (Meta, error) {
	size := c.Size()
	if len(buf) < size {
		return Meta{}, ErrIncompleteBuffer
	}
	word := binary.LittleEndian.Uint64(buf)
	m := Meta{
		Version: word & versionMask,
		Pointer: word&pointerFlag != 0,
	}
	if c.TTLEnabled {
		m.ExpireAt = binary.LittleEndian.Uint64(buf[wordSize:])
	}
	return m, nil
}

// DecodeVersion reads just the version field from an encoded Meta buffer,
// without requiring the full width (useful when only the version is
// needed for a comparator and the TTL word, if any, is irrelevant).
func DecodeVersion(buf []byte) (uint64, error) {
	if len(buf) < wordSize {
		return 0, ErrIncompleteBuffer
	}
	return binary.LittleEndian.Uint64(buf) & versionMask, nil
}
