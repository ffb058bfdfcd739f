package manager

import (
	"context"

	"illustrationd/internal/diffusion"
)

// evictLocked unloads least recently used idle adapters until there is room
// for one more under LoRA.MaxLoaded. The static adapter and keep are never
// evicted. If nothing can be evicted the new adapter is loaded anyway.
func (m *Manager) evictLocked(ctx context.Context, pipe diffusion.Pipeline, keep string) {
	limit := m.cfg.LoRA.MaxLoaded
	if limit <= 0 {
		return
	}
	for m.adapters.Len() >= limit {
		cands := m.adapters.LRUInactive(StaticAdapterID, keep)
		if len(cands) == 0 {
			return
		}
		victim := cands[0]
		if err := pipe.UnloadLoRA(ctx, victim.Name); err != nil {
			m.log.Warn().Str("event", "evict_error").Str("adapter", victim.AdapterID).Err(err).Msg("failed to unload adapter")
			return
		}
		m.adapters.Remove(victim.AdapterID)
		m.evictions.Add(1)
		adapterEvictionsTotal.Inc()
		m.log.Info().Str("event", "evict").Str("adapter", victim.AdapterID).Time("last_used", victim.LastUsed).Msg("evicted adapter")
		m.publish("evict", victim.AdapterID, map[string]any{"last_used": victim.LastUsed})
	}
}
