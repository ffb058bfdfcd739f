package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	minio "github.com/minio/minio-go"
)

// MinioOptions configures a store on a self-hosted S3-compatible server.
type MinioOptions struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// MinioStore talks to MinIO (or any S3-compatible endpoint) through minio-go.
type MinioStore struct {
	bucket string
	client *minio.Client
}

func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("minio: endpoint and bucket are required")
	}
	var (
		client *minio.Client
		err    error
	)
	if opts.Region != "" {
		client, err = minio.NewWithRegion(opts.Endpoint, opts.AccessKeyID, opts.SecretAccessKey, opts.UseSSL, opts.Region)
	} else {
		client, err = minio.New(opts.Endpoint, opts.AccessKeyID, opts.SecretAccessKey, opts.UseSSL)
	}
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	return &MinioStore{bucket: opts.Bucket, client: client}, nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObjectWithContext(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.wrap("get", key, err)
	}
	return obj, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObjectWithContext(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return s.wrap("put", key, err)
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	done := make(chan struct{})
	defer close(done)
	var keys []string
	for info := range s.client.ListObjectsV2(s.bucket, prefix, true, done) {
		if info.Err != nil {
			return nil, s.wrap("list", prefix, info.Err)
		}
		keys = append(keys, info.Key)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MinioStore) URI(key string) string { return uri(s.bucket, key) }

func (s *MinioStore) wrap(op, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return errNotFound(key)
	}
	return fmt.Errorf("minio %s %s: %w", op, key, err)
}
