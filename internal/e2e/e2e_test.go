package e2e

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"illustrationd/internal/config"
	"illustrationd/pkg/types"
)

var (
	generatedSubject = regexp.MustCompile(`^generated/u1/subject_[0-9a-f]{8}\.png$`)
	promptTag        = regexp.MustCompile(`\bp-([a-z0-9]+)\b`)
)

func TestE2E_SubjectIllustration(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	s.store.Seed("subjects/u1.png", pngBytes(t, color.White))
	s.start(t)

	resp, body := httpPostJSON(t, s.srv.URL+"/v1/images/subject", `{"user_id":"u1","num_inference_steps":20}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out types.S3ImageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("json: %v body=%s", err, body)
	}

	keys := s.list(t, "generated/")
	if len(keys) != 1 || !generatedSubject.MatchString(keys[0]) {
		t.Fatalf("expected exactly one generated subject image, got %v", keys)
	}
	if len(out.Data) != 1 || out.Data[0].S3URI != "s3://bucket/"+keys[0] {
		t.Fatalf("response %+v does not reference %s", out, keys[0])
	}
	if ct := s.store.ContentType(keys[0]); ct != "image/png" {
		t.Fatalf("content-type=%q", ct)
	}

	calls := s.rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("backend calls=%d", len(calls))
	}
	p := calls[0].Params
	if p.Steps != 20 || len(p.ConditioningImage) == 0 || p.ConditioningScale != 0.33 {
		t.Fatalf("unexpected params: steps=%d scale=%v image=%d bytes", p.Steps, p.ConditioningScale, len(p.ConditioningImage))
	}
	if got := dirEntries(t, s.workDir); len(got) != 0 {
		t.Fatalf("staging files left behind: %v", got)
	}
}

func TestE2E_MissingSubjectIs404AndLeavesNothing(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	s.start(t)
	before := dirEntries(t, s.workDir)

	resp, body := httpPostJSON(t, s.srv.URL+"/v1/images/subject", `{"user_id":"ghost"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if after := dirEntries(t, s.workDir); len(after) != len(before) {
		t.Fatalf("work dir changed: before=%v after=%v", before, after)
	}
	if keys := s.list(t, "generated/"); len(keys) != 0 {
		t.Fatalf("unexpected uploads: %v", keys)
	}
	if len(s.rec.Calls()) != 0 {
		t.Fatal("backend must not run without an input image")
	}
}

func TestE2E_NotReadyRefusesButHealthAnswers(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	s.store.Seed("subjects/u1.png", pngBytes(t, color.White))

	resp, _ := httpPostJSON(t, s.srv.URL+"/v1/images/subject", `{"user_id":"u1"}`, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp, body := httpGet(t, s.srv.URL+"/health/", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "unhealthy") {
		t.Fatalf("health status=%d body=%s", resp.StatusCode, body)
	}
}

func TestE2E_MemoryWithAdapter(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	s.store.Seed("avatars/u1.png", pngBytes(t, color.Black))
	s.store.Seed("loras/grandma/lora.safetensors", []byte("weights"))
	s.start(t)

	resp, body := httpPostJSON(t, s.srv.URL+"/v1/images/memory",
		`{"user_id":"u1","prompt":"baking bread","lora_id":"grandma"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	calls := s.rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("backend calls=%d", len(calls))
	}
	if got := calls[0].ActiveAtStart; len(got) != 1 || got[0] != "lora_grandma" {
		t.Fatalf("active adapters at inference=%v", got)
	}
	if !strings.Contains(calls[0].Params.Prompt, "baking bread") || !strings.HasPrefix(calls[0].Params.Prompt, "a photo of SKS person") {
		t.Fatalf("prompt=%q", calls[0].Params.Prompt)
	}

	resp, body = httpGet(t, s.srv.URL+"/status", nil)
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d err=%v", resp.StatusCode, err)
	}
	if st.State != "ready" || len(st.Adapters) != 1 || st.Adapters[0].AdapterID != "grandma" {
		t.Fatalf("unexpected status: %+v", st)
	}
	attached := false
	for _, e := range st.RecentEvents {
		if e.Name == "attach_done" && e.AdapterID == "grandma" && e.Time > 0 {
			attached = true
		}
	}
	if !attached {
		t.Fatalf("expected attach_done for grandma in recent events: %+v", st.RecentEvents)
	}
}

func TestE2E_LostWorkerReportsUnhealthy(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	s.start(t)

	s.rec.FailLoad(errors.New("worker binary missing"))
	s.rec.Crash()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, _ := httpGet(t, s.srv.URL+"/readyz", nil)
		if resp.StatusCode == http.StatusServiceUnavailable {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("readyz still %d after the worker exited", resp.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, body := httpGet(t, s.srv.URL+"/health/", nil)
	var h types.HealthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "unhealthy" {
		t.Fatalf("health=%+v", h)
	}
}

func TestE2E_MissingAdapterStillGenerates(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	s.store.Seed("avatars/u1.png", pngBytes(t, color.Black))
	s.start(t)

	resp, body := httpPostJSON(t, s.srv.URL+"/v1/images/memory", `{"user_id":"u1","prompt":"a picnic","lora_id":"nope"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if got := s.rec.Calls()[0].ActiveAtStart; len(got) != 0 {
		t.Fatalf("expected no active adapters, got %v", got)
	}
}

// TestE2E_NoCrossContamination issues concurrent requests with alternating
// adapters and checks that each inference saw only its own adapter active.
func TestE2E_NoCrossContamination(t *testing.T) {
	s := newStack(t, nil, newFileTrainer(), func(c *config.Config) {
		c.Generation.MaxQueueDepth = 64
		c.Generation.MaxWaitSeconds = 30
	})
	s.rec.SetDelay(2 * time.Millisecond)
	ids := []string{"a1", "b2"}
	for _, id := range ids {
		s.store.Seed("loras/"+id+"/lora.safetensors", []byte("w-"+id))
	}
	s.store.Seed("avatars/u1.png", pngBytes(t, color.Black))
	s.start(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		id := ids[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, body, err := postStatus(s.srv.URL+"/v1/images/memory",
				fmt.Sprintf(`{"user_id":"u1","prompt":"p-%s","lora_id":%q}`, id, id))
			if err != nil {
				errs <- err
			} else if code != http.StatusOK {
				errs <- fmt.Errorf("status=%d body=%s", code, body)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	calls := s.rec.Calls()
	if len(calls) != n {
		t.Fatalf("backend calls=%d want %d", len(calls), n)
	}
	for _, c := range calls {
		m := promptTag.FindStringSubmatch(c.Params.Prompt)
		if m == nil {
			t.Fatalf("prompt without tag: %q", c.Params.Prompt)
		}
		id := m[1]
		want := "lora_" + id
		for _, active := range [][]string{c.ActiveAtStart, c.ActiveAtEnd} {
			if len(active) != 1 || active[0] != want {
				t.Fatalf("request for %s ran with active=%v (start=%v end=%v)", id, active, c.ActiveAtStart, c.ActiveAtEnd)
			}
		}
	}
}

func TestE2E_Backpressure429(t *testing.T) {
	s := newStack(t, nil, newFileTrainer(), func(c *config.Config) {
		c.Generation.MaxQueueDepth = 1
		c.Generation.MaxWaitSeconds = 1
	})
	s.rec.SetDelay(1500 * time.Millisecond)
	s.store.Seed("subjects/u1.png", pngBytes(t, color.White))
	s.start(t)

	codes := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func() {
			code, _, _ := postStatus(s.srv.URL+"/v1/images/subject", `{"user_id":"u1"}`)
			codes <- code
		}()
	}
	got429 := false
	for i := 0; i < 3; i++ {
		if <-codes == http.StatusTooManyRequests {
			got429 = true
		}
	}
	if !got429 {
		t.Fatal("expected at least one 429")
	}
}

func TestE2E_AuthRequired(t *testing.T) {
	s := newStack(t, nil, newFileTrainer(), func(c *config.Config) {
		c.Auth = config.AuthConfig{Enabled: true, Token: "s3cret"}
	})
	s.store.Seed("subjects/u1.png", pngBytes(t, color.White))
	s.start(t)

	resp, _ := httpPostJSON(t, s.srv.URL+"/v1/images/subject", `{"user_id":"u1"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized || resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("status=%d www-auth=%q", resp.StatusCode, resp.Header.Get("WWW-Authenticate"))
	}
	resp, _ = httpPostJSON(t, s.srv.URL+"/v1/images/subject", `{"user_id":"u1"}`, map[string]string{"Authorization": "Bearer s3cret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d with valid token", resp.StatusCode)
	}
	if resp, _ := httpGet(t, s.srv.URL+"/health/", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open, got %d", resp.StatusCode)
	}
}

// waitJob polls the status endpoint until the job reaches a terminal state and
// checks that the observed statuses never go backwards.
func waitJob(t *testing.T, s *stack, id string) types.TrainingJobStatus {
	t.Helper()
	rank := map[string]int{"pending": 0, "running": 1, "completed": 2, "failed": 2}
	last := -1
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, body := httpGet(t, s.srv.URL+"/v1/images/train-lora/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d body=%s", resp.StatusCode, body)
		}
		var st types.TrainingJobStatus
		if err := json.Unmarshal(body, &st); err != nil {
			t.Fatal(err)
		}
		r, ok := rank[st.Status]
		if !ok || r < last {
			t.Fatalf("status regressed or unknown: %q after rank %d", st.Status, last)
		}
		last = r
		if st.Status == "completed" || st.Status == "failed" {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s", id, st.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestE2E_TrainThenGenerateWithAdapter(t *testing.T) {
	trainer := newFileTrainer()
	s := newStack(t, nil, trainer)
	s.store.Seed("training/u1/one.png", pngBytes(t, color.White))
	s.store.Seed("training/u1/two.png", pngBytes(t, color.Black))
	s.store.Seed("avatars/u1.png", pngBytes(t, color.Black))
	s.start(t)

	resp, body := httpPostJSON(t, s.srv.URL+"/v1/images/train-lora",
		`{"user_id":"u1","training_images_s3_path":"s3://bucket/training/u1/","num_train_epochs":2}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var started types.TrainLoRAResponse
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatal(err)
	}
	if started.Status != "pending" || started.JobID == "" || started.LoRAID == "" {
		t.Fatalf("unexpected start response: %+v", started)
	}

	st := waitJob(t, s, started.JobID)
	if st.Status != "completed" {
		t.Fatalf("job failed: %+v", st)
	}
	wantKey := "loras/" + started.LoRAID + "/lora.safetensors"
	if st.LoRAS3URI != "s3://bucket/"+wantKey {
		t.Fatalf("lora uri=%q", st.LoRAS3URI)
	}
	if b, ok := s.store.Object(wantKey); !ok || string(b) != "trained-weights" {
		t.Fatalf("weights not uploaded: %q %v", b, ok)
	}
	spec := <-trainer.specs
	if spec.NumTrainEpochs != 2 || spec.BaseModel != s.cfg.Model.Pretrained {
		t.Fatalf("unexpected train spec: %+v", spec)
	}

	resp, body = httpPostJSON(t, s.srv.URL+"/v1/images/memory",
		fmt.Sprintf(`{"user_id":"u1","prompt":"at the lake","lora_id":%q}`, started.LoRAID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	calls := s.rec.Calls()
	if got := calls[len(calls)-1].ActiveAtStart; len(got) != 1 || got[0] != "lora_"+started.LoRAID {
		t.Fatalf("trained adapter not active: %v", got)
	}
}

func TestE2E_TrainingFailureReported(t *testing.T) {
	trainer := newFileTrainer()
	trainer.err = errors.New("CUDA out of memory")
	s := newStack(t, nil, trainer)
	s.store.Seed("training/u2/one.png", pngBytes(t, color.White))

	resp, body := httpPostJSON(t, s.srv.URL+"/v1/images/train-lora", `{"user_id":"u2","training_images_s3_path":"training/u2/"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var started types.TrainLoRAResponse
	_ = json.Unmarshal(body, &started)
	st := waitJob(t, s, started.JobID)
	if st.Status != "failed" || !strings.Contains(st.ErrorMessage, "out of memory") {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestE2E_TrainingRejectsForeignBucket(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	s.store.Seed("training/u1/one.png", pngBytes(t, color.White))

	resp, body := httpPostJSON(t, s.srv.URL+"/v1/images/train-lora",
		`{"user_id":"u1","training_images_s3_path":"s3://another-bucket/training/u1/"}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "another-bucket") {
		t.Fatalf("error should name the rejected bucket: %s", body)
	}
}

func TestE2E_UnknownJob(t *testing.T) {
	s := newStack(t, nil, newFileTrainer())
	resp, _ := httpGet(t, s.srv.URL+"/v1/images/train-lora/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
