package manager

import (
	"context"
	"strings"
)

// SanityReport describes runtime checks for the diffusion dependency.
type SanityReport struct {
	BackendReachable    bool   `json:"backend_reachable"`
	Device              string `json:"device,omitempty"`
	AcceleratorRequired bool   `json:"accelerator_required"`
	AcceleratorFound    bool   `json:"accelerator_found"`
	Error               string `json:"error,omitempty"`
}

// OK reports whether the pipeline could be started with this report.
func (r SanityReport) OK() bool {
	return r.BackendReachable && (!r.AcceleratorRequired || r.AcceleratorFound)
}

// SanityCheck probes the runtime without loading anything. It does not
// mutate state and is safe to call at any time.
func (m *Manager) SanityCheck(ctx context.Context) SanityReport {
	r := SanityReport{AcceleratorRequired: m.cfg.Model.RequireAccelerator}
	if m.cfg.Backend == nil {
		r.Error = "no diffusion backend configured"
		return r
	}
	dev, err := m.cfg.Backend.Device(ctx)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.BackendReachable = true
	r.Device = dev
	r.AcceleratorFound = strings.EqualFold(dev, "cuda")
	if r.AcceleratorRequired && !r.AcceleratorFound {
		r.Error = "no compute accelerator available"
	}
	return r
}
