package vlog

import "errors"

// Value-log and value-log record errors.
var (
	ErrNotEnoughSpace        = errors.New("vlog: not enough space remaining in value log")
	ErrOutOfBound            = errors.New("vlog: pointer range exceeds value log length")
	ErrReadOnly              = errors.New("vlog: value log is sealed, writes are rejected")
	ErrClosed                = errors.New("vlog: value log is closed")
	ErrChecksumInvalid       = errors.New("vlog: trailing checksum does not match value log body")
	ErrTruncatedRecord       = errors.New("vlog: record is truncated")
	ErrEntryChecksumMismatch = errors.New("vlog: record does not match the active-log entry's stored checksum")
)

// NotEnoughSpace carries the detail spec.md requires: how many bytes the
// append needed and how many remained before the logical end of the file.
type NotEnoughSpace struct {
	Required  uint64
	Remaining uint64
}

func (e *NotEnoughSpace) Error() string {
	return ErrNotEnoughSpace.Error()
}

func (e *NotEnoughSpace) Unwrap() error {
	return ErrNotEnoughSpace
}
