package illustration

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/config"
	"illustrationd/internal/diffusion"
	"illustrationd/internal/manager"
)

// fakePipeline records orchestrator calls.
type fakePipeline struct {
	mu       sync.Mutex
	ready    bool
	loaded   map[string]bool
	attachOK bool
	attaches []string
	params   []diffusion.GenerateParams
	adapters []string
	genErr   error
	delay    time.Duration
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{ready: true, loaded: map[string]bool{}, attachOK: true}
}

func (f *fakePipeline) Ready() bool { return f.ready }

func (f *fakePipeline) IsLoaded(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded[id]
}

func (f *fakePipeline) AttachAdapter(ctx context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attaches = append(f.attaches, id)
	if f.attachOK {
		f.loaded[id] = true
	}
	return f.attachOK
}

func (f *fakePipeline) Generate(ctx context.Context, id string, p diffusion.GenerateParams) (manager.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return manager.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	f.adapters = append(f.adapters, id)
	if f.genErr != nil {
		return manager.Result{}, f.genErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.White)
	return manager.Result{Image: img, AdapterApplied: id != ""}, nil
}

type fixture struct {
	svc   *Service
	pipe  *fakePipeline
	store *blobstore.MemoryStore
	keys  blobstore.Keys
	work  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := blobstore.NewMemoryStore("illustrations")
	keys := blobstore.NewKeys(config.StorageConfig{})
	pipe := newFakePipeline()
	work := t.TempDir()
	svc := NewService(ServiceConfig{
		Store:          store,
		Keys:           keys,
		Pipeline:       pipe,
		WorkDir:        work,
		Timeout:        2 * time.Second,
		Conditioning:   true,
		InstancePrompt: "a photo of SKS person",
		Logger:         zerolog.Nop(),
	})
	return &fixture{svc: svc, pipe: pipe, store: store, keys: keys, work: work}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testDefaults() Defaults {
	return DefaultsFromConfig(config.Default().Generation, config.Default().IPAdapter)
}

func mustRequest(t *testing.T, kind Kind, in generateInput) Request {
	t.Helper()
	r, err := NewRequest(kind, in.toTypes(), testDefaults())
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return r
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	return names
}

var generatedKey = regexp.MustCompile(`^generated/u1/(memory|subject)_[0-9a-f]{8}\.png$`)

func TestGenerate_SubjectStoresOutput(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(f.keys.SubjectKey("u1"), pngBytes(t))
	uri, err := f.svc.Generate(context.Background(), mustRequest(t, KindSubject, generateInput{user: "u1", steps: 20}))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	keys, _ := f.store.List(context.Background(), "generated/")
	if len(keys) != 1 || !generatedKey.MatchString(keys[0]) {
		t.Fatalf("unexpected uploads: %v", keys)
	}
	if uri != "s3://illustrations/"+keys[0] {
		t.Fatalf("uri %q does not match key %q", uri, keys[0])
	}
	if ct := f.store.ContentType(keys[0]); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	p := f.pipe.params[0]
	if p.Steps != 20 || p.Prompt != "highest quality, professional sketch, monochrome" {
		t.Fatalf("unexpected params: %+v", p)
	}
	if len(p.ConditioningImage) == 0 || p.ConditioningScale != 0.33 {
		t.Fatalf("expected conditioning image with default scale, got scale %v", p.ConditioningScale)
	}
	if got := listDir(t, f.work); len(got) != 0 {
		t.Fatalf("work dir not cleaned: %v", got)
	}
}

func TestGenerate_MemoryPromptAndNoAttach(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(f.keys.AvatarKey("u1"), []byte("not decoded for memory"))
	_, err := f.svc.Generate(context.Background(), mustRequest(t, KindMemory, generateInput{user: "u1", prompt: "a day at the lake"}))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(f.pipe.attaches) != 0 {
		t.Fatalf("attach must not be called without an adapter, got %v", f.pipe.attaches)
	}
	want := "a day at the lake, highest quality, monochrome, professional sketch, personal, nostalgic, clean"
	if got := f.pipe.params[0].Prompt; got != want {
		t.Fatalf("prompt = %q, want %q", got, want)
	}
	if got := f.pipe.params[0].NegativePrompt; got != "error, glitch, mistake" {
		t.Fatalf("negative prompt = %q", got)
	}
}

func TestGenerate_AdapterAppliedPrefixesInstancePrompt(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(f.keys.AvatarKey("u1"), pngBytes(t))
	r := mustRequest(t, KindMemory, generateInput{user: "u1", prompt: "picnic", lora: "a1"})
	if _, err := f.svc.Generate(context.Background(), r); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(f.pipe.attaches) != 1 || f.pipe.adapters[0] != "a1" {
		t.Fatalf("expected attach and generate with a1: attaches=%v adapters=%v", f.pipe.attaches, f.pipe.adapters)
	}
	if got := f.pipe.params[0].Prompt; !strings.HasPrefix(got, "a photo of SKS person, picnic, ") {
		t.Fatalf("prompt = %q", got)
	}

	// Already loaded: no second attach.
	if _, err := f.svc.Generate(context.Background(), r); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(f.pipe.attaches) != 1 {
		t.Fatalf("expected no attach for a loaded adapter, got %v", f.pipe.attaches)
	}
}

func TestGenerate_AdapterFailureContinuesWithout(t *testing.T) {
	f := newFixture(t)
	f.pipe.attachOK = false
	f.store.Seed(f.keys.AvatarKey("u1"), pngBytes(t))
	_, err := f.svc.Generate(context.Background(), mustRequest(t, KindMemory, generateInput{user: "u1", prompt: "picnic", lora: "a1"}))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if f.pipe.adapters[0] != "" {
		t.Fatalf("expected generation without adapter, got %q", f.pipe.adapters[0])
	}
	if got := f.pipe.params[0].Prompt; got != "picnic, highest quality, monochrome, professional sketch, personal, nostalgic, clean" {
		t.Fatalf("instance prompt must not be used without adapter: %q", got)
	}
}

func TestGenerate_MissingInputLeavesNoFiles(t *testing.T) {
	f := newFixture(t)
	before := listDir(t, f.work)
	_, err := f.svc.Generate(context.Background(), mustRequest(t, KindSubject, generateInput{user: "u1"}))
	if !IsInputNotFound(err) {
		t.Fatalf("expected InputNotFound, got %v", err)
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.StatusCode() != 404 || ge.Stage != "fetch_input" {
		t.Fatalf("unexpected error: %#v", err)
	}
	after := listDir(t, f.work)
	if len(before) != len(after) {
		t.Fatalf("work dir changed: before=%v after=%v", before, after)
	}
	if len(f.pipe.params) != 0 {
		t.Fatalf("inference must not run")
	}
}

func TestGenerate_InvalidSubjectImage(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(f.keys.SubjectKey("u1"), []byte("definitely not a png"))
	_, err := f.svc.Generate(context.Background(), mustRequest(t, KindSubject, generateInput{user: "u1"}))
	if !IsInvalidInput(err) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if got := listDir(t, f.work); len(got) != 0 {
		t.Fatalf("work dir not cleaned: %v", got)
	}
}

func TestGenerate_InferenceAndUploadFailures(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(f.keys.SubjectKey("u1"), pngBytes(t))
	r := mustRequest(t, KindSubject, generateInput{user: "u1"})

	f.pipe.genErr = errors.New("cuda oom")
	if _, err := f.svc.Generate(context.Background(), r); KindOf(err) != InferenceFailure {
		t.Fatalf("expected InferenceFailure, got %v", err)
	}

	f.pipe.genErr = nil
	f.store.FailPuts(errors.New("access denied"))
	if _, err := f.svc.Generate(context.Background(), r); KindOf(err) != UploadFailure {
		t.Fatalf("expected UploadFailure, got %v", err)
	}
	if got := listDir(t, f.work); len(got) != 0 {
		t.Fatalf("work dir not cleaned: %v", got)
	}
}

func TestGenerate_ManagerErrorsMapped(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(f.keys.SubjectKey("u1"), pngBytes(t))
	f.pipe.genErr = manager.ErrDependencyUnavailable("backend gone")
	_, err := f.svc.Generate(context.Background(), mustRequest(t, KindSubject, generateInput{user: "u1"}))
	if KindOf(err) != StartupFailure {
		t.Fatalf("expected StartupFailure, got %v", err)
	}
}

func TestGenerate_NotReady(t *testing.T) {
	f := newFixture(t)
	f.pipe.ready = false
	_, err := f.svc.Generate(context.Background(), mustRequest(t, KindSubject, generateInput{user: "u1"}))
	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != StartupFailure || ge.StatusCode() != 503 {
		t.Fatalf("expected StartupFailure, got %v", err)
	}
}

func TestGenerate_TimeoutCleansUp(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.Timeout = 30 * time.Millisecond
	f.pipe.delay = time.Second
	f.store.Seed(f.keys.SubjectKey("u1"), pngBytes(t))
	_, err := f.svc.Generate(context.Background(), mustRequest(t, KindSubject, generateInput{user: "u1"}))
	if KindOf(err) != Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if got := listDir(t, f.work); len(got) != 0 {
		t.Fatalf("work dir not cleaned: %v", got)
	}
	keys, _ := f.store.List(context.Background(), "generated/")
	if len(keys) != 0 {
		t.Fatalf("nothing should be uploaded: %v", keys)
	}
}

func TestGenerate_CanceledCleansUp(t *testing.T) {
	f := newFixture(t)
	f.pipe.delay = time.Second
	f.store.Seed(f.keys.SubjectKey("u1"), pngBytes(t))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.svc.Generate(ctx, mustRequest(t, KindSubject, generateInput{user: "u1"}))
	if KindOf(err) != Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if got := listDir(t, f.work); len(got) != 0 {
		t.Fatalf("work dir not cleaned: %v", got)
	}
}
