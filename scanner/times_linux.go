//go:build linux
// +build linux

package scanner

import (
	"os"
	"syscall"
)

// getFileTimes returns creation and modification times in Unix seconds.
// Linux has no portable birth time; the inode change time is the closest
// stat-visible stand-in.
func getFileTimes(path string, info os.FileInfo) (creation int64, modification int64) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ctim.Sec, stat.Mtim.Sec
	}
	mod := info.ModTime().Unix()
	return mod, mod
}
