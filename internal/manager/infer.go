package manager

import (
	"context"
	"fmt"
	"image"
	"time"

	"illustrationd/internal/diffusion"
)

// Generate runs one inference with adapterID active ("" for the default set).
// Attaching the adapter, activating it and running the model happen under a
// single hold of the exclusive slot, so no other request can change the
// active adapters in between. The model call runs on the worker pool; if ctx
// ends first Generate returns ctx.Err() while the slot stays held until the
// backend call actually returns.
//
// An adapter that cannot be attached is not an error: the call proceeds
// without it and Result.AdapterApplied is false.
func (m *Manager) Generate(ctx context.Context, adapterID string, params diffusion.GenerateParams) (Result, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		generationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	// Fetch weights before queueing so the download does not hold the pipeline.
	var path string
	if adapterID != "" && !m.adapters.Contains(adapterID) {
		p, err := m.fetchAdapter(ctx, adapterID)
		if err != nil {
			m.attachFailed(adapterID, "download_error", err)
			adapterID = ""
		} else {
			path = p
		}
	}

	release, err := m.beginExclusive(ctx)
	if err != nil {
		if IsTooBusy(err) {
			outcome = "busy"
		}
		return Result{}, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()
	pipe := m.pipeline()
	if pipe == nil {
		return Result{}, ErrDependencyUnavailable("diffusion pipeline is not loaded")
	}

	ids := m.defaultIDs()
	applied := false
	if adapterID != "" {
		if err := m.ensureAttachedLocked(ctx, pipe, adapterID, path); err != nil {
			m.attachFailed(adapterID, "load_error", err)
		} else {
			ids = []string{adapterID}
			applied = true
		}
	}
	if err := m.activateLocked(ctx, pipe, ids); err != nil {
		return Result{}, fmt.Errorf("activate adapters: %w", err)
	}
	now := time.Now()
	for _, id := range ids {
		m.adapters.Touch(id, now)
	}

	var img image.Image
	done, err := m.pool.Run(ctx, func(ctx context.Context) error {
		var gerr error
		img, gerr = pipe.Generate(ctx, params)
		return gerr
	})
	if err != nil {
		select {
		case <-done:
		default:
			// The backend call is still running; release the slot when it returns.
			handedOff = true
			go func() {
				<-done
				release()
			}()
			outcome = "canceled"
			m.log.Warn().Str("event", "generate_abandoned").Str("adapter", adapterID).Err(err).Msg("caller gave up; pipeline stays busy until the backend returns")
		}
		return Result{}, err
	}
	outcome = "ok"
	m.log.Debug().Str("event", "generate_done").Str("adapter", adapterID).Bool("adapter_applied", applied).Dur("took", time.Since(start)).Msg("generation finished")
	return Result{Image: img, AdapterApplied: applied}, nil
}

// ensureAttachedLocked re-loads an adapter that was evicted after the caller
// attached it. Weights are normally still in the local cache.
func (m *Manager) ensureAttachedLocked(ctx context.Context, pipe diffusion.Pipeline, adapterID, path string) error {
	if m.adapters.Contains(adapterID) {
		return nil
	}
	if path == "" {
		p, err := m.fetchAdapter(ctx, adapterID)
		if err != nil {
			return err
		}
		path = p
	}
	if err := m.attachLocked(ctx, pipe, adapterID, path); err != nil {
		return err
	}
	adapterAttachTotal.WithLabelValues("loaded").Inc()
	m.publish("attach_done", adapterID, nil)
	return nil
}
