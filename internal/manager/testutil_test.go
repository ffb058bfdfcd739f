package manager

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/config"
	"illustrationd/internal/diffusion"
)

// testEnv bundles a manager with the in-process fakes behind it.
type testEnv struct {
	m     *Manager
	rec   *diffusion.Recorder
	store *blobstore.MemoryStore
	keys  blobstore.Keys
}

// newTestEnv builds a manager over a Recorder and an in-memory bucket. mut
// may adjust the config before construction.
func newTestEnv(t *testing.T, mut func(*ManagerConfig)) *testEnv {
	t.Helper()
	rec := diffusion.NewRecorder("cuda")
	store := blobstore.NewMemoryStore("bucket")
	keys := blobstore.NewKeys(config.StorageConfig{})
	cfg := ManagerConfig{
		Backend:      rec,
		Cache:        blobstore.NewCache(store, t.TempDir(), zerolog.Nop()),
		Keys:         keys,
		Model:        config.ModelConfig{Pretrained: "base-model", RequireAccelerator: true},
		LoRA:         config.LoRAConfig{MaxLoaded: 4},
		MaxWait:      time.Second,
		DrainTimeout: 100 * time.Millisecond,
		Logger:       zerolog.Nop(),
	}
	if mut != nil {
		mut(&cfg)
	}
	return &testEnv{m: NewWithConfig(cfg), rec: rec, store: store, keys: keys}
}

// start loads the pipeline or fails the test.
func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.m.EnsureStarted(testCtx(t)); err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
}

// seedAdapter uploads fake weights for id.
func (e *testEnv) seedAdapter(id string) {
	e.store.Seed(e.keys.LoRAKey(id), []byte("weights-"+id))
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func defaultParams() diffusion.GenerateParams {
	return diffusion.GenerateParams{Prompt: "a watercolor", Steps: 4, GuidanceScale: 5}
}
