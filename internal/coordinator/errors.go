package coordinator

import "github.com/pkg/errors"

// ErrClosed is returned by Submit/Insert/Remove once the coordinator has
// been closed and its writer goroutine has exited.
var ErrClosed = errors.New("coordinator: closed")
