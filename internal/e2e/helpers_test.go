// Package e2e drives the full HTTP stack (router, orchestrator, pipeline
// manager, training runner) against in-memory storage and a recording
// diffusion backend.
package e2e

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/config"
	"illustrationd/internal/diffusion"
	"illustrationd/internal/httpapi"
	"illustrationd/internal/illustration"
	"illustrationd/internal/imageutil"
	"illustrationd/internal/manager"
	"illustrationd/internal/training"
)

// stack is one fully wired service behind an httptest server.
type stack struct {
	srv     *httptest.Server
	cfg     config.Config
	store   *blobstore.MemoryStore
	keys    blobstore.Keys
	backend diffusion.Backend
	rec     *diffusion.Recorder
	mgr     *manager.Manager
	runner  *training.Runner
	workDir string
}

type stackOption func(*config.Config)

// newStack wires the service the way cmd/illustrationd does, with the
// recorder (or backend, when given) in place of a real diffusion worker.
func newStack(t *testing.T, backend diffusion.Backend, trainer training.Trainer, opts ...stackOption) *stack {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WorkDir = filepath.Join(dir, "work")
	cfg.Storage.Driver = "memory"
	cfg.Storage.Bucket = "bucket"
	cfg.Storage.CacheDir = filepath.Join(dir, "cache")
	cfg.Diffusion.Driver = "mock"
	cfg.IPAdapter.Enabled = true
	cfg.IPAdapter.Repo = "h94/IP-Adapter"
	cfg.Training.OutputDir = filepath.Join(dir, "train")
	cfg.Generation.MaxWaitSeconds = 5
	for _, o := range opts {
		o(&cfg)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		t.Fatal(err)
	}

	s := &stack{cfg: cfg, store: blobstore.NewMemoryStore(cfg.Storage.Bucket), keys: blobstore.NewKeys(cfg.Storage)}
	s.workDir = filepath.Join(cfg.WorkDir, "generate")
	if backend == nil {
		s.rec = diffusion.NewRecorder("cuda")
		backend = s.rec
	}
	s.backend = backend
	log := zerolog.Nop()

	s.mgr = manager.NewWithConfig(manager.ManagerConfig{
		Backend:       backend,
		Cache:         blobstore.NewCache(s.store, cfg.Storage.CacheDir, log),
		Keys:          s.keys,
		Model:         cfg.Model,
		IPAdapter:     cfg.IPAdapter,
		LoRA:          cfg.LoRA,
		Workers:       cfg.Generation.Workers,
		MaxQueueDepth: cfg.Generation.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.Generation.MaxWaitSeconds) * time.Second,
		DrainTimeout:  time.Second,
		Publisher:     manager.NewRecentEvents(20),
		Logger:        log,
	})
	svc := illustration.NewService(illustration.ServiceConfig{
		Store:          s.store,
		Keys:           s.keys,
		Pipeline:       s.mgr,
		WorkDir:        s.workDir,
		Timeout:        time.Duration(cfg.Generation.RequestTimeoutSeconds) * time.Second,
		Conditioning:   cfg.IPAdapter.Enabled,
		InstancePrompt: cfg.Training.InstancePrompt(),
		Logger:         log,
	})
	s.runner = training.NewRunner(training.RunnerConfig{
		Store:     s.store,
		Keys:      s.keys,
		Trainer:   trainer,
		Training:  cfg.Training,
		BaseModel: s.mgr.ModelPath,
		Logger:    log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = s.runner.Run(ctx)
	}()

	s.srv = httptest.NewServer(httpapi.NewMux(httpapi.Options{
		Images:      svc,
		Defaults:    illustration.DefaultsFromConfig(cfg.Generation, cfg.IPAdapter),
		Training:    s.runner,
		Pipeline:    s.mgr,
		Auth:        cfg.Auth,
		Logger:      log,
		BaseContext: ctx,
	}))
	t.Cleanup(func() {
		s.srv.Close()
		cancel()
		<-runDone
		_ = s.mgr.Close(context.Background())
	})
	return s
}

func (s *stack) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.mgr.EnsureStarted(ctx); err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
}

// pngBytes renders a small solid image.
func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	b, err := imageutil.EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (s *stack) list(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := s.store.List(context.Background(), prefix)
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	return names
}

func httpGet(t *testing.T, url string, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	return do(t, req)
}

func httpPostJSON(t *testing.T, url, payload string, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// fileTrainer writes a fake weights file instead of running a launcher.
type fileTrainer struct {
	specs chan training.TrainSpec
	err   error
}

func newFileTrainer() *fileTrainer { return &fileTrainer{specs: make(chan training.TrainSpec, 8)} }

func (f *fileTrainer) Train(ctx context.Context, spec training.TrainSpec) (string, error) {
	f.specs <- spec
	if f.err != nil {
		return "", f.err
	}
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(spec.OutputDir, "pytorch_lora_weights.safetensors")
	return p, os.WriteFile(p, []byte("trained-weights"), 0o644)
}

// postStatus is httpPostJSON for use off the test goroutine.
func postStatus(url, payload string) (int, []byte, error) {
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(payload))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}
