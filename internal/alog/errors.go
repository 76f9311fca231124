package alog

import "errors"

// Active-log (skip list) errors.
var (
	ErrInsufficientSpace = errors.New("alog: arena has insufficient space for this entry")
	ErrKeyTooLarge       = errors.New("alog: key exceeds the configured maximum size")
	ErrValueTooLarge     = errors.New("alog: value exceeds the configured maximum size")
)
