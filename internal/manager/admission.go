package manager

import (
	"context"
	"time"

	"illustrationd/internal/diffusion"
)

// beginExclusive reserves a queue slot and then the single exclusive slot.
// Returns a release func to be deferred.
func (m *Manager) beginExclusive(ctx context.Context) (func(), error) {
	m.mu.RLock()
	draining := m.state == StateDraining
	m.mu.RUnlock()
	if draining {
		backpressureTotal.WithLabelValues("draining").Inc()
		return func() {}, tooBusyError{reason: "shutting down"}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	// Try to reserve a queue slot with timeout
	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case m.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		backpressureTotal.WithLabelValues("queue_full").Inc()
		return func() {}, tooBusyError{reason: "queue full"}
	}

	// Wait to acquire the exclusive slot
	acquired := false
	defer func() {
		if !acquired {
			<-m.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(m.maxWait)
	defer timer2.Stop()
	select {
	case m.genCh <- struct{}{}:
		acquired = true
		return func() { <-m.genCh; <-m.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		backpressureTotal.WithLabelValues("wait_timeout").Inc()
		return func() {}, tooBusyError{reason: "timed out waiting for the pipeline"}
	}
}

// WithExclusiveAccess runs fn with sole access to the pipeline. It is the only
// way code outside this package can reach the pipeline; fn must not retain it.
func (m *Manager) WithExclusiveAccess(ctx context.Context, fn func(ctx context.Context, p diffusion.Pipeline) error) error {
	release, err := m.beginExclusive(ctx)
	if err != nil {
		return err
	}
	defer release()
	pipe := m.pipeline()
	if pipe == nil {
		return ErrDependencyUnavailable("diffusion pipeline is not loaded")
	}
	return fn(ctx, pipe)
}
