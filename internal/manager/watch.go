package manager

import "illustrationd/internal/diffusion"

// errPipelineLost is the status error while the runtime is being replaced.
const errPipelineLost = "diffusion worker exited"

// watchPipeline waits for the runtime behind pipe to go away. When it does
// and pipe is still the serving pipeline, the manager leaves StateReady at
// once, drops the pipeline and every attached adapter record once the
// exclusive slot is free, and loads a fresh pipeline in the background.
func (m *Manager) watchPipeline(pipe diffusion.Pipeline, lost <-chan struct{}) {
	select {
	case <-lost:
	case <-m.ctx.Done():
		return
	}

	m.mu.Lock()
	if m.pipe != pipe || m.state == StateDraining {
		m.mu.Unlock()
		return
	}
	m.state = StateError
	m.err = errPipelineLost
	m.mu.Unlock()
	pipelineReady.Set(0)
	m.log.Error().Str("event", "pipeline_lost").Msg("diffusion runtime exited; reloading")

	// Whoever holds the slot is using the dead pipeline and fails fast.
	select {
	case m.genCh <- struct{}{}:
	case <-m.ctx.Done():
		return
	}
	m.mu.Lock()
	if m.pipe == pipe {
		m.pipe = nil
	}
	m.mu.Unlock()
	dropped := m.adapters.Clear()
	<-m.genCh
	m.publish("pipeline_lost", "", map[string]any{"dropped_adapters": len(dropped)})

	if err := m.EnsureStarted(m.ctx); err != nil {
		m.log.Error().Str("event", "pipeline_reload_error").Err(err).Msg("diffusion pipeline reload failed")
		return
	}
	m.publish("pipeline_reloaded", "", nil)
}
