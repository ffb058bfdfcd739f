package manager

import (
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/config"
	"illustrationd/internal/diffusion"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 2 * time.Minute
	defaultDrainTimeout  = 30 * time.Second
)

// StaticAdapterID is the registry id of the adapter configured at startup.
const StaticAdapterID = "static"

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Backend diffusion.Backend
	// Cache fetches remote checkpoints and adapter weights. Required when
	// adapters or a remote checkpoint are used.
	Cache *blobstore.Cache
	Keys  blobstore.Keys

	Model     config.ModelConfig
	IPAdapter config.IPAdapterConfig
	LoRA      config.LoRAConfig

	// Workers bounds concurrent blocking backend calls.
	Workers       int
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	Logger    zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := newManager(cfg)
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	m.queueCh = make(chan struct{}, m.maxQueueDepth)
	m.genCh = make(chan struct{}, 1)
	if cfg.Publisher != nil {
		m.publisher = cfg.Publisher
	}
	return m
}
