package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
)

// Download copies the object at key into a new uniquely named file inside dir
// and returns its path. Nothing is left behind on failure.
func Download(ctx context.Context, store Store, key, dir string) (string, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(dir, "blob-*"+path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	name := f.Name()
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: rc}); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	return name, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
