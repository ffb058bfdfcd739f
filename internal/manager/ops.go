package manager

import "context"

// StartAsync kicks off EnsureStarted in the background so the HTTP server can
// answer health checks while weights load. The returned channel receives the
// load result once.
func (m *Manager) StartAsync(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	go func() {
		// Detached from request cancellation; shutdown cancels ctx.
		out <- m.EnsureStarted(ctx)
		close(out)
	}()
	return out
}
