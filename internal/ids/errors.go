package ids

import "errors"

// Codec errors for FID/TID/Meta/Pointer encoding and decoding.
var (
	ErrInsufficientBuffer = errors.New("ids: insufficient buffer to encode value")
	ErrIncompleteBuffer   = errors.New("ids: buffer does not contain enough bytes to decode")
	ErrInvalidVarint      = errors.New("ids: malformed varint")
	ErrFidTooLarge        = errors.New("ids: file id exceeds 63 bits")
	ErrTidTooLarge        = errors.New("ids: table id exceeds 16 bits")
	ErrVersionTooLarge    = errors.New("ids: version exceeds 63 bits")
	ErrInvalidEntryFlag   = errors.New("ids: pointer tombstone flag must be zero on decode")
)
