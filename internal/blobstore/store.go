// Package blobstore is a thin key/value layer over S3-compatible object
// storage, plus a local cache for large artifacts and the key layout shared by
// the generation and training paths.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"illustrationd/internal/config"
)

// Store is a binary key/value store. Implementations are safe for concurrent use.
type Store interface {
	// Get opens the object at key. Returns an error satisfying IsNotFound when missing.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Put uploads size bytes from r under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// List returns every key starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// URI renders key as s3://bucket/key.
	URI(key string) string
}

// ErrNotFound is returned (wrapped) when an object does not exist.
var ErrNotFound = errors.New("object not found")

type notFoundError struct{ key string }

func (e notFoundError) Error() string { return "object not found: " + e.key }

func (e notFoundError) Unwrap() error { return ErrNotFound }

func errNotFound(key string) error { return notFoundError{key: key} }

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func uri(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		bucket := cfg.Bucket
		if bucket == "" {
			bucket = "memory"
		}
		return NewMemoryStore(bucket), nil
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	case "minio":
		return NewMinioStore(MinioOptions{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}
