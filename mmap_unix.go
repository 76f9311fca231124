//go:build unix

package ledgerkv

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapActiveLog maps f (already truncated to size) read-write and
// shared, backing an active log's arena directly with the file's pages.
func mmapActiveLog(f *os.File, size uint64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}
