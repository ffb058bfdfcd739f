package manager

import (
	"context"
	"errors"
	"time"

	"illustrationd/internal/diffusion"
	"illustrationd/internal/registry"
)

// AttachAdapter makes the adapter's weights available in the pipeline and
// activates it. An adapter that is already tracked succeeds without any
// download. Failures are logged and reported as false: callers continue
// without the adapter.
func (m *Manager) AttachAdapter(ctx context.Context, adapterID string) bool {
	if adapterID == "" {
		return false
	}
	if m.adapters.Contains(adapterID) {
		adapterAttachTotal.WithLabelValues("hit").Inc()
		m.publish("attach_hit", adapterID, nil)
		return true
	}
	log := m.log.With().Str("adapter", adapterID).Logger()
	log.Info().Str("event", "attach_start").Msg("attaching adapter")
	m.publish("attach_start", adapterID, nil)

	// Download outside the exclusive section so inference is not blocked on the network.
	path, err := m.fetchAdapter(ctx, adapterID)
	if err != nil {
		m.attachFailed(adapterID, "download_error", err)
		return false
	}
	err = m.WithExclusiveAccess(ctx, func(ctx context.Context, pipe diffusion.Pipeline) error {
		if err := m.attachLocked(ctx, pipe, adapterID, path); err != nil {
			return err
		}
		return m.activateLocked(ctx, pipe, []string{adapterID})
	})
	if err != nil {
		m.attachFailed(adapterID, "load_error", err)
		return false
	}
	adapterAttachTotal.WithLabelValues("loaded").Inc()
	log.Info().Str("event", "attach_done").Msg("adapter attached")
	m.publish("attach_done", adapterID, nil)
	return true
}

func (m *Manager) attachFailed(adapterID, outcome string, err error) {
	adapterAttachTotal.WithLabelValues(outcome).Inc()
	m.log.Warn().Str("event", "attach_error").Str("adapter", adapterID).Str("outcome", outcome).Err(err).Msg("adapter unavailable; continuing without it")
	m.publish("attach_error", adapterID, map[string]any{"error": err.Error(), "outcome": outcome})
}

// fetchAdapter returns the local path of the adapter weights, downloading
// them into the cache when needed.
func (m *Manager) fetchAdapter(ctx context.Context, adapterID string) (string, error) {
	if m.cfg.Cache == nil {
		return "", adapterLoadError{id: adapterID, err: errors.New("no blob cache configured")}
	}
	p, err := m.cfg.Cache.Fetch(ctx, m.cfg.Keys.LoRAKey(adapterID))
	if err != nil {
		return "", adapterLoadError{id: adapterID, err: err}
	}
	return p, nil
}

// attachLocked loads adapter weights into pipe if they are not loaded yet.
// Callers hold the exclusive slot.
func (m *Manager) attachLocked(ctx context.Context, pipe diffusion.Pipeline, adapterID, path string) error {
	if m.adapters.Contains(adapterID) {
		return nil
	}
	// The previous request's adapter stops being active here; it becomes an
	// eviction candidate like any other idle adapter.
	if err := m.activateLocked(ctx, pipe, m.defaultIDs()); err != nil {
		return err
	}
	m.evictLocked(ctx, pipe, adapterID)

	name := adapterName(adapterID)
	if err := pipe.LoadLoRA(ctx, diffusion.LoRASpec{Name: name, Path: path}); err != nil {
		return adapterLoadError{id: adapterID, err: err}
	}
	now := time.Now()
	m.adapters.Put(registry.AdapterRecord{
		AdapterID: adapterID,
		SourceKey: m.cfg.Keys.LoRAKey(adapterID),
		Name:      name,
		LocalPath: path,
		LoadedAt:  now,
		LastUsed:  now,
	})
	return nil
}

// activateLocked makes ids the active adapter set on pipe and in the registry.
func (m *Manager) activateLocked(ctx context.Context, pipe diffusion.Pipeline, ids []string) error {
	names := make([]string, 0, len(ids))
	weights := make([]float64, 0, len(ids))
	for _, id := range ids {
		rec, ok := m.adapters.Get(id)
		if !ok {
			continue
		}
		names = append(names, rec.Name)
		weights = append(weights, 1)
	}
	if err := pipe.SetAdapters(ctx, names, weights); err != nil {
		return err
	}
	m.adapters.SetActive(ids...)
	return nil
}

// DetachAdapter unloads one adapter's weights from the pipeline and drops its
// tracking entry. An empty id unloads every adapter. Unloading is real: the
// pipeline no longer carries the adapter's weights afterwards.
func (m *Manager) DetachAdapter(ctx context.Context, adapterID string) error {
	return m.WithExclusiveAccess(ctx, func(ctx context.Context, pipe diffusion.Pipeline) error {
		var recs []registry.AdapterRecord
		if adapterID == "" {
			recs = m.adapters.List()
		} else if rec, ok := m.adapters.Get(adapterID); ok {
			recs = append(recs, rec)
		}
		for _, rec := range recs {
			if err := pipe.UnloadLoRA(ctx, rec.Name); err != nil {
				return adapterLoadError{id: rec.AdapterID, err: err}
			}
			m.adapters.Remove(rec.AdapterID)
			m.log.Info().Str("event", "detach").Str("adapter", rec.AdapterID).Msg("adapter unloaded")
			m.publish("detach", rec.AdapterID, nil)
		}
		return m.activateLocked(ctx, pipe, m.defaultIDs())
	})
}
