// Package scanner extracts per-file metadata: stat fields, a cheap partial
// content hash, and hidden-file detection.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/presift/presift/models"
)

// PartialHashBytes is how much of a file the content fingerprint covers. The
// hash exists for change-detection economy, not integrity.
const PartialHashBytes = 4096

// Extract stats path and builds a metadata record. A stat failure returns
// (nil, false): the caller skips the item without erroring the batch.
func Extract(path string) (*models.FileMetadata, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	isDir := info.IsDir()
	extension := ""
	if !isDir {
		extension = ExtractExtension(path)
	}

	created, modified := getFileTimes(path, info)

	size := int64(0)
	if !isDir {
		size = info.Size()
	}

	meta := &models.FileMetadata{
		FilePath:     path,
		FileName:     filepath.Base(path),
		Extension:    extension,
		FileSize:     size,
		CreatedTime:  created,
		ModifiedTime: modified,
		IsDir:        isDir,
		IsHidden:     IsHidden(path),
	}

	if !isDir {
		if hash, err := PartialHash(path); err == nil {
			meta.HashValue = hash
		}
	}

	return meta, true
}

// PartialHash returns the SHA256 of at most the first PartialHashBytes bytes.
func PartialHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	buf := make([]byte, PartialHashBytes)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if n == 0 {
		return "", nil
	}

	sum := sha256.Sum256(buf[:n])
	return hex.EncodeToString(sum[:]), nil
}

// ExtractExtension returns the lowercase extension without the dot, or "".
func ExtractExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsHidden reports whether the basename, or any path component other than
// "." and "..", starts with a dot.
func IsHidden(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	normalized := strings.ReplaceAll(path, string(filepath.Separator), "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == "." || part == ".." || part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
