// Package fileid derives deterministic transcript IDs from files, so a watched or re-imported
// file is ingested once per version.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
)

const prefix = "file:"

// FileDocID returns a stable ID for the given absolute path.
// Same path always yields the same ID.
func FileDocID(absolutePath string) string {
	return hashID(filepath.Clean(absolutePath))
}

// Version returns an ID for the current content version of the file at absolutePath:
// path, size and modification time. Touching or rewriting the file changes it.
func Version(absolutePath string, info os.FileInfo) string {
	return hashID(filepath.Clean(absolutePath) +
		"\x00" + strconv.FormatInt(info.Size(), 10) +
		"\x00" + strconv.FormatInt(info.ModTime().UnixNano(), 10))
}

func hashID(s string) string {
	hash := sha256.Sum256([]byte(s))
	return prefix + hex.EncodeToString(hash[:])
}
