//go:build !unix

package vlog

import (
	"os"

	"github.com/pkg/errors"
)

var errMmapUnsupported = errors.New("vlog: memory-mapped value logs require a unix platform")

func mmapFile(f *os.File, size int, writable bool) ([]byte, error) {
	return nil, errMmapUnsupported
}

func munmapFile(data []byte) error {
	return nil
}

func msyncFile(data []byte) error {
	return nil
}
