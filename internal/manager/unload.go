package manager

import (
	"context"
	"time"
)

// Close drains the pipeline and releases it.
// - Sets state to draining so new requests are rejected with 429.
// - Waits up to DrainTimeout (or ctx) for in-flight and queued requests.
// - Closes the pipeline; the manager cannot be restarted afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDraining {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDraining
	pipe := m.pipe
	m.mu.Unlock()
	m.cancel()
	pipelineReady.Set(0)
	m.publish("drain_start", "", nil)

	deadline := time.Now().Add(m.drainTimeout)
	for {
		qlen := len(m.queueCh)
		inflight := len(m.genCh)
		if inflight == 0 && qlen == 0 {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			m.log.Warn().Str("event", "drain_timeout").Int("inflight", inflight).Int("queue", qlen).Msg("closing with work outstanding")
			m.publish("drain_timeout", "", map[string]any{"inflight": inflight, "queue": qlen})
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	var err error
	if pipe != nil {
		err = pipe.Close()
	}
	m.mu.Lock()
	m.pipe = nil
	m.mu.Unlock()
	m.publish("drain_done", "", nil)
	return err
}
