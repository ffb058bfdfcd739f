package manager

import (
	"image"
)

// State represents lifecycle state of the pipeline.
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateError    State = "error"
	StateDraining State = "draining"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State  State
	Device string
	// ModelSource is the configured origin of the loaded checkpoint.
	ModelSource string
	Active      []string
	Loaded      int
	Err         string
}

// Result is the outcome of one Generate call.
type Result struct {
	Image image.Image
	// AdapterApplied is true when the requested adapter was active for the call.
	AdapterApplied bool
}
