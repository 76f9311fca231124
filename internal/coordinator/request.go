package coordinator

// Request is one write submitted to a table's single writer goroutine.
// Per spec.md §5, the caller owns a one-shot reply channel: dropping it
// before the writer replies is permitted and simply discards the result,
// so Reply is always created with capacity 1 and never blocks the
// writer even if nobody is listening.
type Request struct {
	Version  uint64
	Key      []byte
	Value    []byte
	ExpireAt uint64
	Remove   bool

	Reply chan error
}

func newRequest(version uint64, key, value []byte, expireAt uint64, remove bool) *Request {
	return &Request{
		Version:  version,
		Key:      key,
		Value:    value,
		ExpireAt: expireAt,
		Remove:   remove,
		Reply:    make(chan error, 1),
	}
}
