package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DirSizes returns the size of every immediate subdirectory of root, keyed by
// its name. Files directly under root are not counted, and a missing root
// yields an empty map.
func DirSizes(root string) (map[string]int64, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := TreeSize(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		sizes[e.Name()] = n
	}
	return sizes, nil
}

// TreeSize sums the regular files under dir. Entries removed while the tree is
// walked count as zero.
func TreeSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
