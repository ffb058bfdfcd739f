package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/common/fsutil"
	"illustrationd/internal/diffusion"
	"illustrationd/internal/registry"
)

// EnsureStarted loads the pipeline if it is not loaded yet. It is idempotent;
// concurrent callers wait for the single in-flight load and share its result.
// A missing accelerator (when required) or an unreachable runtime leaves the
// manager in StateError and returns a dependency-unavailable error.
func (m *Manager) EnsureStarted(ctx context.Context) error {
	if m.pipeline() != nil {
		return nil
	}
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.pipeline() != nil {
		return nil
	}
	if m.draining() {
		return ErrDependencyUnavailable("manager is shutting down")
	}

	startTs := time.Now()
	m.setState(StateLoading, "")
	m.log.Info().Str("event", "ensure_start").Msg("loading diffusion pipeline")
	m.publish("ensure_start", "", nil)

	if m.cfg.Backend == nil {
		return m.failStart(ErrDependencyUnavailable("no diffusion backend configured"))
	}
	device, err := m.cfg.Backend.Device(ctx)
	if err != nil {
		return m.failStart(ErrDependencyUnavailable("diffusion runtime unreachable: " + err.Error()))
	}
	m.mu.Lock()
	m.device = device
	m.mu.Unlock()
	if m.cfg.Model.RequireAccelerator && !strings.EqualFold(device, "cuda") {
		return m.failStart(ErrDependencyUnavailable(fmt.Sprintf("no compute accelerator available (device=%q)", device)))
	}

	src, err := m.resolveSource(ctx)
	if err != nil {
		return m.failStart(ErrDependencyUnavailable("resolve base model: " + err.Error()))
	}
	pipe, err := m.cfg.Backend.Load(ctx, src)
	if err != nil {
		return m.failStart(ErrDependencyUnavailable("load base model: " + err.Error()))
	}

	if ip := m.cfg.IPAdapter; ip.Enabled {
		spec := diffusion.IPAdapterSpec{Repo: ip.Repo, Subfolder: ip.Subfolder, Weights: ip.Weights, Scale: ip.Scale}
		if err := pipe.LoadIPAdapter(ctx, spec); err != nil {
			_ = pipe.Close()
			return m.failStart(ErrDependencyUnavailable("load ip adapter: " + err.Error()))
		}
		m.log.Info().Str("event", "ip_adapter_loaded").Str("repo", ip.Repo).Float64("scale", ip.Scale).Msg("image conditioning enabled")
	}

	if m.cfg.LoRA.Enabled {
		if err := m.loadStaticAdapter(ctx, pipe); err != nil {
			_ = pipe.Close()
			return m.failStart(ErrDependencyUnavailable("load static adapter: " + err.Error()))
		}
	}

	m.mu.Lock()
	if m.state == StateDraining {
		m.mu.Unlock()
		_ = pipe.Close()
		return ErrDependencyUnavailable("manager is shutting down")
	}
	m.pipe = pipe
	m.source = src
	m.state = StateReady
	m.err = ""
	m.mu.Unlock()
	pipelineReady.Set(1)
	dur := time.Since(startTs)
	m.log.Info().Str("event", "ensure_ready").Str("device", device).Str("source", src.Origin).Dur("took", dur).Msg("diffusion pipeline ready")
	m.publish("ensure_ready", "", map[string]any{"device": device, "source": src.Origin, "duration_ms": dur.Milliseconds()})
	if l, ok := pipe.(diffusion.Lossy); ok {
		go m.watchPipeline(pipe, l.Lost())
	}
	return nil
}

func (m *Manager) failStart(err error) error {
	m.setState(StateError, err.Error())
	pipelineReady.Set(0)
	m.log.Error().Str("event", "ensure_error").Err(err).Msg("diffusion pipeline unavailable")
	m.publish("ensure_error", "", map[string]any{"error": err.Error()})
	return err
}

func (m *Manager) setState(s State, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDraining {
		return
	}
	m.state = s
	m.err = errMsg
}

func (m *Manager) draining() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateDraining
}

// ModelPath resolves the configured base checkpoint to something a local
// tool can open: a cached file, a local file, or a pretrained model name.
func (m *Manager) ModelPath(ctx context.Context) (string, error) {
	src, err := m.resolveSource(ctx)
	if err != nil {
		return "", err
	}
	return src.Path, nil
}

// resolveSource picks the checkpoint: remote object, then local file, then
// the named pretrained model.
func (m *Manager) resolveSource(ctx context.Context) (diffusion.Source, error) {
	mc := m.cfg.Model
	switch {
	case mc.S3Path != "":
		if m.cfg.Cache == nil {
			return diffusion.Source{}, errors.New("remote checkpoint configured without a blob cache")
		}
		_, key, err := blobstore.ParseURI(mc.S3Path)
		if err != nil {
			return diffusion.Source{}, err
		}
		p, err := m.cfg.Cache.Fetch(ctx, key)
		if err != nil {
			return diffusion.Source{}, fmt.Errorf("fetch %s: %w", mc.S3Path, err)
		}
		return diffusion.Source{Kind: diffusion.SourceRemote, Path: p, Origin: mc.S3Path}, nil
	case mc.File != "":
		p, err := fsutil.ExpandHome(mc.File)
		if err != nil {
			return diffusion.Source{}, err
		}
		if !fsutil.PathExists(p) {
			return diffusion.Source{}, fmt.Errorf("model file not found: %s", p)
		}
		return diffusion.Source{Kind: diffusion.SourceFile, Path: p, Origin: mc.File}, nil
	case mc.Pretrained != "":
		return diffusion.Source{Kind: diffusion.SourcePretrained, Path: mc.Pretrained, Origin: mc.Pretrained}, nil
	}
	return diffusion.Source{}, errors.New("no model source configured")
}

// loadStaticAdapter attaches the startup adapter and makes it the default
// active set for requests that do not ask for an adapter.
func (m *Manager) loadStaticAdapter(ctx context.Context, pipe diffusion.Pipeline) error {
	lc := m.cfg.LoRA
	path := lc.Weights
	sourceKey := ""
	if strings.HasPrefix(path, "s3://") {
		if m.cfg.Cache == nil {
			return errors.New("remote adapter configured without a blob cache")
		}
		_, key, err := blobstore.ParseURI(path)
		if err != nil {
			return err
		}
		p, err := m.cfg.Cache.Fetch(ctx, key)
		if err != nil {
			return err
		}
		path, sourceKey = p, key
	} else {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return err
		}
		path = p
	}
	name := adapterName(StaticAdapterID)
	if err := pipe.LoadLoRA(ctx, diffusion.LoRASpec{Name: name, Path: path, WeightName: lc.WeightsName}); err != nil {
		return err
	}
	if err := pipe.SetAdapters(ctx, []string{name}, []float64{1}); err != nil {
		return err
	}
	now := time.Now()
	m.adapters.Put(registry.AdapterRecord{
		AdapterID: StaticAdapterID, SourceKey: sourceKey, Name: name, LocalPath: path,
		Attached: true, LoadedAt: now, LastUsed: now,
	})
	m.log.Info().Str("event", "static_adapter_loaded").Str("path", path).Msg("static adapter attached")
	return nil
}

// defaultIDs is the adapter set active when a request names no adapter.
func (m *Manager) defaultIDs() []string {
	if m.adapters.Contains(StaticAdapterID) {
		return []string{StaticAdapterID}
	}
	return nil
}
