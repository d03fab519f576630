package storage

import (
	"os"
	"path/filepath"
)

// Usage is the on-disk size of one persisted file or directory.
type Usage struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// DiskUsage reports the size of each path (directories summed recursively) and the total.
// Empty and missing paths are skipped.
func DiskUsage(paths ...string) ([]Usage, int64, error) {
	var (
		usage []Usage
		total int64
	)
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, err
		}
		n := info.Size()
		if info.IsDir() {
			if n, err = dirSize(p); err != nil {
				return nil, 0, err
			}
		}
		usage = append(usage, Usage{Path: p, Bytes: n})
		total += n
	}
	return usage, total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
