package diffusion

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"sort"
	"sync"
	"time"
)

// Call is one Generate invocation seen by a Recorder.
type Call struct {
	Params GenerateParams
	// ActiveAtStart and ActiveAtEnd are the active adapter names when Generate
	// was entered and when it returned.
	ActiveAtStart []string
	ActiveAtEnd   []string
}

// Recorder is an in-process Backend and Pipeline. It keeps adapter state the
// way a real runtime would and records every generation with the adapters
// active at that moment. Output images are solid colors derived from the
// active set.
type Recorder struct {
	// Delay is slept inside Generate; it ignores cancellation like a real sampler.
	Delay time.Duration
	Size  int

	mu        sync.Mutex
	device    string
	source    *Source
	ipAdapter *IPAdapterSpec
	loras     map[string]LoRASpec
	active    []string
	calls     []Call
	loads     int
	loraLoads int
	unloads   int
	failLoad  error
	failLoRA  error
	failGen   error
	closed    bool
	lost      chan struct{}
}

func NewRecorder(device string) *Recorder {
	return &Recorder{device: device, Size: 64, loras: make(map[string]LoRASpec)}
}

func (r *Recorder) Device(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.device, nil
}

func (r *Recorder) Load(ctx context.Context, src Source) (Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoad != nil {
		return nil, r.failLoad
	}
	s := src
	r.source = &s
	r.loads++
	r.closed = false
	r.lost = make(chan struct{})
	return r, nil
}

// Lost closes when Crash is called on the pipeline returned by the latest Load.
func (r *Recorder) Lost() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

// Crash simulates the runtime going away: adapter state is dropped and the
// current Lost channel closes. A later Load starts a fresh runtime.
func (r *Recorder) Crash() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loras = make(map[string]LoRASpec)
	r.active = nil
	if r.lost != nil {
		select {
		case <-r.lost:
		default:
			close(r.lost)
		}
	}
}

func (r *Recorder) LoadIPAdapter(ctx context.Context, spec IPAdapterSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := spec
	r.ipAdapter = &s
	return nil
}

func (r *Recorder) LoadLoRA(ctx context.Context, spec LoRASpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoRA != nil {
		return r.failLoRA
	}
	if spec.Name == "" {
		return errors.New("adapter name is empty")
	}
	if _, ok := r.loras[spec.Name]; ok {
		return fmt.Errorf("adapter %s already loaded", spec.Name)
	}
	r.loras[spec.Name] = spec
	r.loraLoads++
	return nil
}

func (r *Recorder) SetAdapters(ctx context.Context, names []string, weights []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(weights) != 0 && len(weights) != len(names) {
		return fmt.Errorf("got %d weights for %d adapters", len(weights), len(names))
	}
	for _, n := range names {
		if _, ok := r.loras[n]; !ok {
			return fmt.Errorf("adapter %s not loaded", n)
		}
	}
	r.active = append([]string(nil), names...)
	return nil
}

func (r *Recorder) UnloadLoRA(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loras[name]; !ok {
		return fmt.Errorf("adapter %s not loaded", name)
	}
	delete(r.loras, name)
	r.unloads++
	kept := r.active[:0]
	for _, n := range r.active {
		if n != name {
			kept = append(kept, n)
		}
	}
	r.active = kept
	return nil
}

func (r *Recorder) Generate(ctx context.Context, p GenerateParams) (image.Image, error) {
	r.mu.Lock()
	start := append([]string(nil), r.active...)
	failErr := r.failGen
	delay := r.Delay
	size := r.Size
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	end := append([]string(nil), r.active...)
	r.calls = append(r.calls, Call{Params: p, ActiveAtStart: start, ActiveAtEnd: end})
	r.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	if size <= 0 {
		size = 64
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: colorFor(start)}, image.Point{}, draw.Src)
	return img, nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func colorFor(active []string) color.Color {
	h := fnv.New32a()
	for _, n := range active {
		_, _ = h.Write([]byte(n))
	}
	v := h.Sum32()
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255}
}

// Calls returns every recorded generation in call order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Loaded returns the names of adapters currently loaded, sorted.
func (r *Recorder) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.loras))
	for n := range r.loras {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Active returns the current active adapter names.
func (r *Recorder) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.active...)
}

// Source returns the checkpoint the pipeline was loaded from, if any.
func (r *Recorder) Source() (Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source == nil {
		return Source{}, false
	}
	return *r.source, true
}

// IPAdapter returns the loaded image-conditioning adapter, if any.
func (r *Recorder) IPAdapter() (IPAdapterSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ipAdapter == nil {
		return IPAdapterSpec{}, false
	}
	return *r.ipAdapter, true
}

// Loads counts successful Load calls.
func (r *Recorder) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// LoRALoads counts successful LoadLoRA calls.
func (r *Recorder) LoRALoads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loraLoads
}

// Unloads counts successful UnloadLoRA calls.
func (r *Recorder) Unloads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloads
}

// SetDelay changes Delay while generations may be running.
func (r *Recorder) SetDelay(d time.Duration) { r.mu.Lock(); r.Delay = d; r.mu.Unlock() }

// FailLoad makes Load return err.
func (r *Recorder) FailLoad(err error) { r.mu.Lock(); r.failLoad = err; r.mu.Unlock() }

// FailLoRA makes LoadLoRA return err.
func (r *Recorder) FailLoRA(err error) { r.mu.Lock(); r.failLoRA = err; r.mu.Unlock() }

// FailGenerate makes Generate return err.
func (r *Recorder) FailGenerate(err error) { r.mu.Lock(); r.failGen = err; r.mu.Unlock() }

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
