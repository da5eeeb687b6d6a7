//go:build darwin
// +build darwin

package scanner

import (
	"os"

	"golang.org/x/sys/unix"
)

// getFileTimes returns creation and modification times in Unix seconds.
// macOS exposes the real birth time via Birthtimespec.
func getFileTimes(path string, info os.FileInfo) (creation int64, modification int64) {
	if stat, ok := info.Sys().(*unix.Stat_t); ok {
		return stat.Birthtimespec.Sec, stat.Mtimespec.Sec
	}
	mod := info.ModTime().Unix()
	return mod, mod
}
