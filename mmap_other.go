//go:build !unix

package ledgerkv

import (
	"os"

	"github.com/pkg/errors"
)

var errMmapUnsupported = errors.New("ledgerkv: memory-mapped active logs are not supported on this platform")

func mmapActiveLog(f *os.File, size uint64) ([]byte, error) {
	return nil, errMmapUnsupported
}
