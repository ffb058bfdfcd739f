package diffusion

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/common/procutil"
)

// SpawnConfig describes how to start a diffusion worker process.
type SpawnConfig struct {
	Bin  string
	Args []string
	Host string
	// Port 0 picks a free port.
	Port         int
	ReadyTimeout time.Duration
	Logger       zerolog.Logger
}

// Spawner runs the diffusion worker as a child process and forwards Backend
// calls to it over HTTP. The process starts on first use.
type Spawner struct {
	cfg SpawnConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	backend *HTTPBackend
	baseURL string
}

func NewSpawner(cfg SpawnConfig) *Spawner {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Minute
	}
	return &Spawner{cfg: cfg}
}

func (s *Spawner) Device(ctx context.Context) (string, error) {
	b, _, err := s.ensure(ctx)
	if err != nil {
		return "", err
	}
	return b.Device(ctx)
}

// Load returns a pipeline that also implements Lossy: Lost closes when the
// child that served the load exits.
func (s *Spawner) Load(ctx context.Context, src Source) (Pipeline, error) {
	b, exited, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	p, err := b.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	return &spawnedPipeline{Pipeline: p, lost: exited}, nil
}

type spawnedPipeline struct {
	Pipeline
	lost <-chan struct{}
}

func (p *spawnedPipeline) Lost() <-chan struct{} { return p.lost }

// BaseURL returns the worker address once started.
func (s *Spawner) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// ensure starts the worker if it is not running and waits until /health answers.
func (s *Spawner) ensure(ctx context.Context) (*HTTPBackend, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		select {
		case <-s.exited:
			s.cfg.Logger.Warn().Str("event", "spawn_restart").Msg("diffusion worker exited; restarting")
			s.reset()
		default:
			return s.backend, s.exited, nil
		}
	}

	port := s.cfg.Port
	if port == 0 {
		p, err := pickFreePort(s.cfg.Host)
		if err != nil {
			return nil, nil, err
		}
		port = p
	}
	baseURL := fmt.Sprintf("http://%s:%d", s.cfg.Host, port)
	args := append([]string{"--host", s.cfg.Host, "--port", strconv.Itoa(port)}, s.cfg.Args...)

	cmd := exec.Command(s.cfg.Bin, args...)
	stderr := procutil.NewTailBuffer(4096)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start diffusion worker: %w", err)
	}
	pid := cmd.Process.Pid
	log := s.cfg.Logger.With().Int("pid", pid).Str("url", baseURL).Logger()
	log.Info().Str("event", "spawn_start").Msg("diffusion worker started")

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		log.Warn().Str("event", "spawn_exit").AnErr("error", waitErr).Msg("diffusion worker exited")
		close(exited)
	}()

	backend := NewHTTPBackend(baseURL)
	deadline := time.NewTimer(s.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		ok := backend.healthy(probeCtx)
		cancel()
		if ok {
			break
		}
		select {
		case <-exited:
			log.Error().Str("event", "spawn_exit").AnErr("error", waitErr).Msg("diffusion worker exited before ready")
			return nil, nil, fmt.Errorf("diffusion worker exited early: %v; stderr tail: %s", waitErr, stderr.String())
		case <-deadline.C:
			log.Error().Str("event", "spawn_timeout").Msg("diffusion worker not ready in time")
			procutil.Terminate(cmd, exited, 5*time.Second)
			return nil, nil, fmt.Errorf("diffusion worker not ready in time: %s", baseURL)
		case <-ctx.Done():
			procutil.Terminate(cmd, exited, 5*time.Second)
			return nil, nil, ctx.Err()
		case <-tick.C:
		}
	}
	log.Info().Str("event", "spawn_ready").Msg("diffusion worker ready")
	s.cmd, s.exited, s.backend, s.baseURL = cmd, exited, backend, baseURL
	return backend, exited, nil
}

// Stop terminates the worker: SIGTERM, then kill after a grace period.
func (s *Spawner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	procutil.Terminate(s.cmd, s.exited, 5*time.Second)
	s.cfg.Logger.Info().Str("event", "spawn_stop").Msg("diffusion worker stopped")
	s.reset()
	return nil
}

func (s *Spawner) reset() {
	s.cmd, s.exited, s.backend, s.baseURL = nil, nil, nil, ""
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
