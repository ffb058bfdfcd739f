// Package diffusion defines the boundary to the image-diffusion runtime.
//
// The runtime itself (sampling, networks, adapter math) lives outside this
// process. Backend creates the single Pipeline; Pipeline methods mutate shared
// adapter state on the runtime and are not safe for concurrent use. Callers
// serialize access (see internal/manager).
//
// Implementations:
//
//   - HTTPBackend: JSON over HTTP to a diffusion worker sidecar.
//   - Spawner: starts the worker binary as a child process, then behaves as HTTPBackend.
//   - Recorder: in-process fake that records every call (driver "mock").
package diffusion

import (
	"context"
	"image"
)

// Source kinds, in load precedence order.
const (
	SourceRemote     = "remote"
	SourceFile       = "file"
	SourcePretrained = "pretrained"
)

// Source identifies the base checkpoint. Path is a local file for remote and
// file sources (remote checkpoints are fetched into the local cache first),
// or a model repository id for pretrained.
type Source struct {
	Kind string
	Path string
	// Origin is what the operator configured (s3 URI, file path or repo id).
	Origin string
}

// IPAdapterSpec locates image-conditioning adapter weights.
type IPAdapterSpec struct {
	Repo      string
	Subfolder string
	Weights   string
	Scale     float64
}

// LoRASpec locates low-rank adapter weights on local disk and names them
// inside the pipeline.
type LoRASpec struct {
	Name       string
	Path       string
	WeightName string
}

// GenerateParams is the complete set of options for one generation call.
type GenerateParams struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	// ConditioningImage is an encoded image; nil disables image conditioning.
	ConditioningImage []byte
	ConditioningScale float64
	// Seed 0 lets the runtime choose.
	Seed int64
}

// Backend starts the runtime and creates the pipeline.
type Backend interface {
	// Device reports the compute device the runtime will use (e.g. "cuda", "cpu").
	Device(ctx context.Context) (string, error)
	Load(ctx context.Context, src Source) (Pipeline, error)
}

// Pipeline is the loaded model plus its attached adapters.
type Pipeline interface {
	LoadIPAdapter(ctx context.Context, spec IPAdapterSpec) error
	LoadLoRA(ctx context.Context, spec LoRASpec) error
	// SetAdapters replaces the active adapter set. Empty names deactivates all.
	SetAdapters(ctx context.Context, names []string, weights []float64) error
	// UnloadLoRA removes the adapter's weights from the model.
	UnloadLoRA(ctx context.Context, name string) error
	Generate(ctx context.Context, p GenerateParams) (image.Image, error)
	Close() error
}

// Lossy is implemented by pipelines whose runtime can exit underneath them.
// Lost closes once the runtime backing the pipeline is gone; the pipeline must
// not be used after that and a new one has to be loaded.
type Lossy interface {
	Lost() <-chan struct{}
}
