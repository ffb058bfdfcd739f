package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"illustrationd/internal/common/fsutil"
)

// AdapterWeightsFile is the file name adapter weights are stored under, both
// in the bucket and in the local cache.
const AdapterWeightsFile = "lora.safetensors"

// CachedAdapter is adapter weights found on local disk.
type CachedAdapter struct {
	ID   string
	Path string
	Size int64
}

// LoadDir scans <dir>/<id>/lora.safetensors entries (the local cache mirror of
// the bucket's adapter prefix) and returns them sorted by id. A missing dir
// yields an empty result.
func LoadDir(dir string) ([]CachedAdapter, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []CachedAdapter
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(abs, e.Name(), AdapterWeightsFile)
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, CachedAdapter{ID: e.Name(), Path: p, Size: fi.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
