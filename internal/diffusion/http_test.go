package diffusion

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeWorker is a minimal diffusion worker recording requests by path.
type fakeWorker struct {
	mu     sync.Mutex
	bodies map[string][]map[string]any
	status int
}

func (f *fakeWorker) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) map[string]any {
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		f.mu.Lock()
		f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], m)
		f.mu.Unlock()
		return m
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","device":"cuda"}`))
	})
	for _, p := range []string{"/pipeline/load", "/ip-adapter/load", "/lora/load", "/lora/set", "/lora/unload"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			record(r)
			if f.status != 0 {
				http.Error(w, "adapter file corrupt", f.status)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		img.Set(0, 0, color.White)
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, img)
	})
	return mux
}

func (f *fakeWorker) body(path string, i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.bodies[path]) {
		return nil
	}
	return f.bodies[path][i]
}

func newFakeWorker(t *testing.T) (*fakeWorker, *HTTPBackend) {
	t.Helper()
	fw := &fakeWorker{bodies: map[string][]map[string]any{}}
	srv := httptest.NewServer(fw.handler())
	t.Cleanup(srv.Close)
	return fw, NewHTTPBackend(srv.URL + "/")
}

func TestHTTPBackend_DeviceAndLoad(t *testing.T) {
	fw, b := newFakeWorker(t)
	ctx := context.Background()
	dev, err := b.Device(ctx)
	if err != nil || dev != "cuda" {
		t.Fatalf("device=%q err=%v", dev, err)
	}
	if _, err := b.Load(ctx, Source{Kind: SourcePretrained, Path: "stabilityai/stable-diffusion-xl-base-1.0"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := fw.body("/pipeline/load", 0)
	if got["source_kind"] != "pretrained" || got["path"] != "stabilityai/stable-diffusion-xl-base-1.0" {
		t.Fatalf("unexpected load body: %v", got)
	}
}

func TestHTTPPipeline_AdapterCallsAndGenerate(t *testing.T) {
	fw, b := newFakeWorker(t)
	ctx := context.Background()
	p, err := b.Load(ctx, Source{Kind: SourceFile, Path: "/models/sdxl.safetensors"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := p.LoadLoRA(ctx, LoRASpec{Name: "lora_a", Path: "/cache/loras/a/lora.safetensors"}); err != nil {
		t.Fatalf("lora load: %v", err)
	}
	if err := p.SetAdapters(ctx, nil, nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	set := fw.body("/lora/set", 0)
	if names, ok := set["adapter_names"].([]any); !ok || len(names) != 0 {
		t.Fatalf("empty set should send [], got %v", set)
	}
	img, err := p.Generate(ctx, GenerateParams{Prompt: "a cat", Steps: 20, GuidanceScale: 5, ConditioningImage: []byte{1, 2, 3}, ConditioningScale: 0.33})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Fatalf("bounds %v", img.Bounds())
	}
	gen := fw.body("/generate", 0)
	if gen["prompt"] != "a cat" || gen["num_inference_steps"].(float64) != 20 || gen["ip_adapter_image"] != "AQID" {
		t.Fatalf("unexpected generate body: %v", gen)
	}
}

func TestHTTPBackend_ErrorIncludesBody(t *testing.T) {
	fw, b := newFakeWorker(t)
	fw.status = http.StatusInternalServerError
	p := &httpPipeline{b: b}
	err := p.LoadLoRA(context.Background(), LoRASpec{Name: "lora_x", Path: "/x"})
	if err == nil || !strings.Contains(err.Error(), "adapter file corrupt") {
		t.Fatalf("expected worker message in error, got %v", err)
	}
}

func TestHTTPBackend_ContextCanceled(t *testing.T) {
	_, b := newFakeWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Device(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
