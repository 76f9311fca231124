package ledgerkv

import (
	"fmt"
	"path/filepath"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// fidWidth is the zero-padding width of an encoded FID in a file name:
// the decimal digit count of math.MaxUint64 (spec.md §6).
const fidWidth = 20

func fidName(fid ids.FID, ext string) string {
	return fmt.Sprintf("%0*d.%s", fidWidth, uint64(fid), ext)
}

func activeLogPath(dir string, fid ids.FID) string { return filepath.Join(dir, fidName(fid, "alog")) }
func frozenLogPath(dir string, fid ids.FID) string { return filepath.Join(dir, fidName(fid, "flog")) }
func bloomPath(dir string, fid ids.FID) string     { return filepath.Join(dir, fidName(fid, "blog")) }
func valueLogPath(dir string, fid ids.FID) string  { return filepath.Join(dir, fidName(fid, "vlog")) }
