package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/config"
	"illustrationd/internal/diffusion"
	"illustrationd/internal/httpapi"
	"illustrationd/internal/illustration"
	"illustrationd/internal/manager"
	"illustrationd/internal/training"
)

// recentEvents is how many manager events /status reports.
const recentEvents = 50

// app is the wired service graph.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	store   blobstore.Store
	keys    blobstore.Keys
	manager *manager.Manager
	images  *illustration.Service
	runner  *training.Runner
	trainer *training.AccelerateTrainer
	handler http.Handler

	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("shutdown step failed")
		}
	}
}

func serveCmd(cmd *cobra.Command, o *cliOptions) error {
	cfg, err := loadConfig(cmd, o, osLookup)
	if err != nil {
		return err
	}
	log, logCloser, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, o.requestLogLevel, log)
}

// buildApp wires every component from cfg. baseCtx is canceled on shutdown.
func buildApp(baseCtx context.Context, cfg config.Config, requestLogLevel string, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}

	store, err := blobstore.Open(baseCtx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.store = store
	a.keys = blobstore.NewKeys(cfg.Storage)
	cache := blobstore.NewCache(store, cfg.Storage.CacheDir, log)

	backend, err := newBackend(cfg.Diffusion, log)
	if err != nil {
		return nil, err
	}
	if sp, ok := backend.(*diffusion.Spawner); ok {
		a.closers = append(a.closers, sp.Stop)
	}

	a.manager = manager.NewWithConfig(manager.ManagerConfig{
		Backend:       backend,
		Cache:         cache,
		Keys:          a.keys,
		Model:         cfg.Model,
		IPAdapter:     cfg.IPAdapter,
		LoRA:          cfg.LoRA,
		Workers:       cfg.Generation.Workers,
		MaxQueueDepth: cfg.Generation.MaxQueueDepth,
		MaxWait:       seconds(cfg.Generation.MaxWaitSeconds),
		DrainTimeout:  seconds(cfg.HTTP.ShutdownTimeoutSeconds),
		Publisher:     manager.NewRecentEvents(recentEvents),
		Logger:        log,
	})

	a.images = illustration.NewService(illustration.ServiceConfig{
		Store:          store,
		Keys:           a.keys,
		Pipeline:       a.manager,
		WorkDir:        filepath.Join(cfg.WorkDir, "generate"),
		Timeout:        seconds(cfg.Generation.RequestTimeoutSeconds),
		Conditioning:   cfg.IPAdapter.Enabled,
		InstancePrompt: cfg.Training.InstancePrompt(),
		Logger:         log,
	})

	jobs, err := newJobStore(baseCtx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := jobs.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.trainer = training.NewAccelerateTrainer(cfg.Training, log)
	a.runner = training.NewRunner(training.RunnerConfig{
		Store:     store,
		Keys:      a.keys,
		Jobs:      jobs,
		Trainer:   a.trainer,
		Training:  cfg.Training,
		BaseModel: a.manager.ModelPath,
		Logger:    log,
	})

	a.handler = httpapi.NewMux(httpapi.Options{
		Images:       a.images,
		Defaults:     illustration.DefaultsFromConfig(cfg.Generation, cfg.IPAdapter),
		Training:     a.runner,
		Pipeline:     a.manager,
		Auth:         cfg.Auth,
		CORS:         cfg.CORS,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       log,
		LogLevel:     requestLogLevel,
		BaseContext:  baseCtx,
	})
	return a, nil
}

func serve(ctx context.Context, cfg config.Config, requestLogLevel string, log zerolog.Logger) error {
	a, err := buildApp(ctx, cfg, requestLogLevel, log)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		log.Warn().Msg("auth is enabled without a token; /v1 requests will fail with 500")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("version", version).Msg("illustrationd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// A failed load leaves the service up and reporting unhealthy.
		if err := <-a.manager.StartAsync(gctx); err != nil {
			log.Error().Err(err).Msg("diffusion pipeline failed to start; serving health checks only")
		}
		return nil
	})
	g.Go(func() error {
		return a.runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), seconds(cfg.HTTP.ShutdownTimeoutSeconds))
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		return a.manager.Close(sctx)
	})
	return g.Wait()
}

func newBackend(cfg config.DiffusionConfig, log zerolog.Logger) (diffusion.Backend, error) {
	switch cfg.Driver {
	case "http":
		return diffusion.NewHTTPBackend(cfg.URL), nil
	case "spawn":
		return diffusion.NewSpawner(diffusion.SpawnConfig{
			Bin:          cfg.WorkerBin,
			Args:         cfg.WorkerArgs,
			Host:         cfg.Host,
			ReadyTimeout: seconds(cfg.ReadyTimeoutSeconds),
			Logger:       log,
		}), nil
	case "mock":
		log.Warn().Msg("using the mock diffusion backend; generated images are placeholders")
		return diffusion.NewRecorder(cfg.MockDevice), nil
	}
	return nil, fmt.Errorf("unknown diffusion driver: %q", cfg.Driver)
}

func newJobStore(ctx context.Context, cfg config.Config) (training.JobStore, error) {
	if cfg.Training.JobStore == "redis" {
		s, err := training.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("job store: %w", err)
		}
		return s, nil
	}
	return training.NewMemoryStore(), nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
