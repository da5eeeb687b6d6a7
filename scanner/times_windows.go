//go:build windows
// +build windows

package scanner

import (
	"os"
	"syscall"
	"time"
)

// getFileTimes returns creation and modification times in Unix seconds.
func getFileTimes(path string, info os.FileInfo) (creation int64, modification int64) {
	if stat, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		creation = time.Unix(0, stat.CreationTime.Nanoseconds()).Unix()
		modification = time.Unix(0, stat.LastWriteTime.Nanoseconds()).Unix()
		return creation, modification
	}
	mod := info.ModTime().Unix()
	return mod, mod
}
