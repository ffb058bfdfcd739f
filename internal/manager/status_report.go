package manager

import (
	"path/filepath"
	"strings"
	"time"

	"illustrationd/internal/registry"
	"illustrationd/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	s := Snapshot{State: m.state, Device: m.device, ModelSource: m.source.Origin, Err: m.err}
	m.mu.RUnlock()
	s.Active = m.adapters.Active()
	s.Loaded = m.adapters.Len()
	return s
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	snap := m.Snapshot()
	resp := types.StatusResponse{
		State:          string(snap.State),
		Device:         snap.Device,
		ModelSource:    snap.ModelSource,
		Error:          snap.Err,
		QueueLen:       len(m.queueCh),
		Inflight:       len(m.genCh),
		MaxQueueDepth:  cap(m.queueCh),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		EvictionsTotal: m.evictions.Load(),
	}
	recs := m.adapters.List()
	resp.Adapters = make([]types.AdapterStatus, 0, len(recs))
	for _, r := range recs {
		resp.Adapters = append(resp.Adapters, types.AdapterStatus{
			AdapterID: r.AdapterID,
			Name:      r.Name,
			SourceKey: r.SourceKey,
			Attached:  r.Attached,
			LastUsed:  r.LastUsed.Unix(),
		})
	}
	m.mu.RLock()
	pub := m.publisher
	m.mu.RUnlock()
	if mp, ok := pub.(*MemoryPublisher); ok {
		for _, e := range mp.Events() {
			resp.RecentEvents = append(resp.RecentEvents, types.EventStatus{
				Name:      e.Name,
				AdapterID: e.AdapterID,
				Time:      e.At.Unix(),
				Fields:    e.Fields,
			})
		}
	}
	if dir := m.adapterCacheDir(); dir != "" {
		if cached, err := registry.LoadDir(dir); err == nil {
			for _, c := range cached {
				resp.CachedAdapters = append(resp.CachedAdapters, c.ID)
			}
		}
	}
	return resp
}

// adapterCacheDir is where the blob cache keeps adapter weights.
func (m *Manager) adapterCacheDir() string {
	if m.cfg.Cache == nil || m.cfg.Cache.Dir == "" {
		return ""
	}
	prefix := strings.Trim(m.cfg.Keys.LoRAPrefix, "/")
	if prefix == "" {
		return ""
	}
	return filepath.Join(m.cfg.Cache.Dir, filepath.FromSlash(prefix))
}
