package diffusion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	"illustrationd/internal/imageutil"
)

// HTTPBackend talks to a diffusion worker sidecar:
//
//	GET  /health          -> {"status":"ok","device":"cuda"}
//	POST /pipeline/load   {"source_kind","path"}
//	POST /ip-adapter/load {"repo","subfolder","weight_name","scale"}
//	POST /lora/load       {"adapter_name","path","weight_name"}
//	POST /lora/set        {"adapter_names","adapter_weights"}
//	POST /lora/unload     {"adapter_name"}
//	POST /generate        generateRequest -> image/png
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend returns a client for the worker at baseURL. The HTTP client
// has no timeout; every call is bounded by its context.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: 0}}
}

type healthResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

func (b *HTTPBackend) Device(ctx context.Context) (string, error) {
	var h healthResponse
	if err := b.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return "", err
	}
	return h.Device, nil
}

type loadRequest struct {
	SourceKind string `json:"source_kind"`
	Path       string `json:"path"`
}

func (b *HTTPBackend) Load(ctx context.Context, src Source) (Pipeline, error) {
	if err := b.do(ctx, http.MethodPost, "/pipeline/load", loadRequest{SourceKind: src.Kind, Path: src.Path}, nil); err != nil {
		return nil, err
	}
	return &httpPipeline{b: b}, nil
}

// healthy is a short readiness probe used by Spawner.
func (b *HTTPBackend) healthy(ctx context.Context) bool {
	return b.do(ctx, http.MethodGet, "/health", nil, nil) == nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("diffusion worker %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("diffusion worker %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(tail)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type httpPipeline struct {
	b *HTTPBackend
}

type ipAdapterRequest struct {
	Repo       string  `json:"repo"`
	Subfolder  string  `json:"subfolder,omitempty"`
	WeightName string  `json:"weight_name,omitempty"`
	Scale      float64 `json:"scale"`
}

func (p *httpPipeline) LoadIPAdapter(ctx context.Context, spec IPAdapterSpec) error {
	return p.b.do(ctx, http.MethodPost, "/ip-adapter/load", ipAdapterRequest{
		Repo: spec.Repo, Subfolder: spec.Subfolder, WeightName: spec.Weights, Scale: spec.Scale,
	}, nil)
}

type loraLoadRequest struct {
	AdapterName string `json:"adapter_name"`
	Path        string `json:"path"`
	WeightName  string `json:"weight_name,omitempty"`
}

func (p *httpPipeline) LoadLoRA(ctx context.Context, spec LoRASpec) error {
	return p.b.do(ctx, http.MethodPost, "/lora/load", loraLoadRequest{
		AdapterName: spec.Name, Path: spec.Path, WeightName: spec.WeightName,
	}, nil)
}

type loraSetRequest struct {
	AdapterNames   []string  `json:"adapter_names"`
	AdapterWeights []float64 `json:"adapter_weights"`
}

func (p *httpPipeline) SetAdapters(ctx context.Context, names []string, weights []float64) error {
	if names == nil {
		names = []string{}
	}
	if weights == nil {
		weights = []float64{}
	}
	return p.b.do(ctx, http.MethodPost, "/lora/set", loraSetRequest{AdapterNames: names, AdapterWeights: weights}, nil)
}

type loraUnloadRequest struct {
	AdapterName string `json:"adapter_name"`
}

func (p *httpPipeline) UnloadLoRA(ctx context.Context, name string) error {
	return p.b.do(ctx, http.MethodPost, "/lora/unload", loraUnloadRequest{AdapterName: name}, nil)
}

type generateRequest struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	// Base64 in JSON.
	IPAdapterImage []byte  `json:"ip_adapter_image,omitempty"`
	IPAdapterScale float64 `json:"ip_adapter_scale,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
}

func (p *httpPipeline) Generate(ctx context.Context, gp GenerateParams) (image.Image, error) {
	buf, err := json.Marshal(generateRequest{
		Prompt:            gp.Prompt,
		NegativePrompt:    gp.NegativePrompt,
		NumInferenceSteps: gp.Steps,
		GuidanceScale:     gp.GuidanceScale,
		IPAdapterImage:    gp.ConditioningImage,
		IPAdapterScale:    gp.ConditioningScale,
		Seed:              gp.Seed,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.b.baseURL+"/generate", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")
	resp, err := p.b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("diffusion worker generate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("diffusion worker generate: %s: %s", resp.Status, strings.TrimSpace(string(tail)))
	}
	img, _, err := imageutil.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("diffusion worker generate: %w", err)
	}
	return img, nil
}

// Close is a no-op; the worker owns the model memory.
func (p *httpPipeline) Close() error { return nil }
