// Package manager owns the single diffusion pipeline of the process and the
// adapters attached to it. It is structured into small files by concern:
//
//   - manager.go: core Manager type and simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: State, Snapshot, Result.
//   - errors.go: error types and predicates (IsTooBusy, IsDependencyUnavailable, IsAdapterLoad).
//   - admission.go: bounded queue plus the single exclusive slot (WithExclusiveAccess).
//   - ensure.go: EnsureStarted; device probe, checkpoint resolution, optional adapters.
//   - attach.go: AttachAdapter/DetachAdapter and the locked load path.
//   - evict.go: unloading least recently used adapters beyond the configured limit.
//   - infer.go: Generate; attach, activate and run inference in one critical section.
//   - status_report.go: Snapshot/Status reporting.
//   - sanity.go: SanityCheck for the runtime dependency.
//   - ops.go: StartAsync.
//   - watch.go: reacting to a runtime that exits under a loaded pipeline.
//   - unload.go: Close; drain and release the pipeline.
//   - metrics.go: Prometheus collectors.
//
// The pipeline is never handed out except inside WithExclusiveAccess, so
// attaching an adapter, activating it and running inference cannot interleave
// with another request doing the same for a different adapter.
package manager
