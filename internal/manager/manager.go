package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/diffusion"
	"illustrationd/internal/registry"
	"illustrationd/internal/workpool"
)

type Manager struct {
	mu     sync.RWMutex
	state  State
	err    string
	device string
	source diffusion.Source
	pipe   diffusion.Pipeline

	// startMu serializes EnsureStarted so concurrent callers share one load.
	startMu sync.Mutex

	cfg      ManagerConfig
	adapters *registry.Adapters
	pool     *workpool.Pool

	// Admission: queueCh bounds waiters, genCh is the single exclusive slot.
	genCh         chan struct{}
	queueCh       chan struct{}
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration

	// ctx bounds background work (pipeline watch and reload); Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	log       zerolog.Logger
	publisher EventPublisher
	startTime time.Time
	evictions atomic.Uint64
}

func newManager(cfg ManagerConfig) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		cfg:       cfg,
		adapters:  registry.NewAdapters(),
		pool:      workpool.New(workers),
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		publisher: noopPublisher{},
		startTime: time.Now(),
	}
}

// Ready reports whether the pipeline is loaded and serving.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.pipe != nil
}

// IsLoaded reports whether the adapter's weights are loaded in the pipeline.
func (m *Manager) IsLoaded(adapterID string) bool {
	return m.adapters.Contains(adapterID)
}

// SetEventPublisher installs an EventPublisher (nil restores the no-op default).
func (m *Manager) SetEventPublisher(p EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		m.publisher = noopPublisher{}
		return
	}
	m.publisher = p
}

func (m *Manager) publish(name, adapterID string, fields map[string]any) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if fields == nil {
		fields = map[string]any{}
	}
	p.Publish(Event{Name: name, AdapterID: adapterID, Fields: fields, At: time.Now()})
}

func (m *Manager) pipeline() diffusion.Pipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipe
}

func adapterName(id string) string { return "lora_" + id }
