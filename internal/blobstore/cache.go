package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"illustrationd/internal/common/fsutil"
)

// Cache mirrors large objects (checkpoints, adapter weights) onto local disk
// under Dir, laid out by object key. Concurrent fetches of one key share a
// single download.
type Cache struct {
	Dir string

	store Store
	group singleflight.Group
	log   zerolog.Logger
}

func NewCache(store Store, dir string, log zerolog.Logger) *Cache {
	return &Cache{Dir: dir, store: store, log: log}
}

// Path maps key to its location in the cache.
func (c *Cache) Path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid cache key: %q", key)
	}
	return filepath.Join(c.Dir, clean), nil
}

// Has reports whether key is already on disk.
func (c *Cache) Has(key string) bool {
	p, err := c.Path(key)
	if err != nil {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// Fetch returns the local path of key, downloading it first if needed. The
// download outlives a canceled caller so other waiters still get the file.
func (c *Cache) Fetch(ctx context.Context, key string) (string, error) {
	p, err := c.Path(key)
	if err != nil {
		return "", err
	}
	if c.Has(key) {
		return p, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		if c.Has(key) {
			return p, nil
		}
		dctx := context.WithoutCancel(ctx)
		c.log.Debug().Str("event", "cache_fetch").Str("key", key).Msg("downloading into cache")
		rc, err := c.store.Get(dctx, key)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		err = fsutil.WriteFileAtomic(p, func(f *os.File) error {
			_, err := io.Copy(f, rc)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("cache %s: %w", key, err)
		}
		c.log.Info().Str("event", "cache_stored").Str("key", key).Str("path", p).Msg("cached object")
		return p, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
