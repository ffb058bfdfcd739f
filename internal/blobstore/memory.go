package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps objects in process memory. Used by the memory driver and tests.
type MemoryStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]memObject
	gets    map[string]int
	// failPut, when set, makes Put return it (upload failure injection).
	failPut error
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]memObject), gets: make(map[string]int)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets[key]++
	obj, ok := s.objects[key]
	if !ok {
		return nil, errNotFound(key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	failErr := s.failPut
	s.mu.RUnlock()
	if failErr != nil {
		return failErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = memObject{data: b, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) URI(key string) string { return uri(s.bucket, key) }

// Seed stores data under key without going through Put.
func (s *MemoryStore) Seed(key string, data []byte) {
	s.mu.Lock()
	s.objects[key] = memObject{data: append([]byte(nil), data...)}
	s.mu.Unlock()
}

// Object returns a copy of the object at key.
func (s *MemoryStore) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// ContentType returns the content type recorded by Put for key.
func (s *MemoryStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].contentType
}

// Gets reports how many times key was requested through Get.
func (s *MemoryStore) Gets(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gets[key]
}

// FailPuts makes every subsequent Put return err (nil restores normal behaviour).
func (s *MemoryStore) FailPuts(err error) {
	s.mu.Lock()
	s.failPut = err
	s.mu.Unlock()
}
