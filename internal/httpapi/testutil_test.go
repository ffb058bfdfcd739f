package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"illustrationd/internal/illustration"
	"illustrationd/internal/training"
	"illustrationd/pkg/types"
)

type fakeImages struct {
	mu   sync.Mutex
	reqs []illustration.Request
	uri  string
	err  error
	// block, when set, makes Generate wait for ctx to end.
	block bool
}

func (f *fakeImages) Generate(ctx context.Context, r illustration.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, r)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", &illustration.Error{Stage: "generate", Kind: illustration.Canceled, Err: ctx.Err()}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.uri, nil
}

func (f *fakeImages) calls() []illustration.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]illustration.Request(nil), f.reqs...)
}

type fakeTraining struct {
	mu      sync.Mutex
	started []training.StartRequest
	jobs    map[string]training.Job
	err     error
}

func (f *fakeTraining) Start(ctx context.Context, req training.StartRequest) (training.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return training.Job{}, f.err
	}
	f.started = append(f.started, req)
	return training.Job{JobID: "job-1", Status: training.StatusPending, LoRAID: "lora-1", UserID: req.UserID}, nil
}

func (f *fakeTraining) Status(ctx context.Context, id string) (training.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return training.Job{}, training.ErrJobNotFound
	}
	return j, nil
}

type fakePipeline struct {
	ready  bool
	status types.StatusResponse
}

func (f *fakePipeline) Ready() bool                  { return f.ready }
func (f *fakePipeline) Status() types.StatusResponse { return f.status }

type httpErr struct {
	msg  string
	code int
}

func (e httpErr) Error() string   { return e.msg }
func (e httpErr) StatusCode() int { return e.code }

type fixture struct {
	images   *fakeImages
	training *fakeTraining
	pipeline *fakePipeline
	opts     Options
}

func newFixture() *fixture {
	f := &fixture{
		images:   &fakeImages{uri: "s3://bucket/generated/u1/subject_0123abcd.png"},
		training: &fakeTraining{jobs: map[string]training.Job{}},
		pipeline: &fakePipeline{ready: true, status: types.StatusResponse{State: "ready", Adapters: []types.AdapterStatus{}}},
	}
	f.opts = Options{
		Images:   f.images,
		Training: f.training,
		Pipeline: f.pipeline,
		Defaults: illustration.Defaults{
			Steps:             50,
			ConditioningScale: 0.33,
			GuidanceScale:     5,
			NegativePrompt:    "error, glitch, mistake",
			MemoryStylePrompt: "memory style",
			SubjectPrompt:     "subject style",
		},
		Logger: zerolog.Nop(),
	}
	return f
}

func (f *fixture) handler() http.Handler { return NewMux(f.opts) }

func postJSON(t *testing.T, h http.Handler, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v body=%q", err, w.Body.String())
	}
	return v
}
