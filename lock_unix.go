//go:build unix

package ledgerkv

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockExclusive takes a non-blocking advisory exclusive lock on f,
// returning ErrLocked if another process already holds it.
func flockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrLocked
		}
		return err
	}
	return nil
}

func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
