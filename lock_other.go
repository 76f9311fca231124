//go:build !unix

package ledgerkv

import "os"

func flockExclusive(f *os.File) error { return nil }
func funlock(f *os.File) error        { return nil }
