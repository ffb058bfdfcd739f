package httpapi

import (
	"context"

	"github.com/rs/zerolog"

	"illustrationd/internal/config"
	"illustrationd/internal/illustration"
	"illustrationd/internal/training"
	"illustrationd/pkg/types"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Generator produces one illustration and returns the URI of the stored image.
type Generator interface {
	Generate(ctx context.Context, r illustration.Request) (string, error)
}

// Trainer accepts training jobs and reports their status.
type Trainer interface {
	Start(ctx context.Context, req training.StartRequest) (training.Job, error)
	Status(ctx context.Context, id string) (training.Job, error)
}

// Pipeline reports the state of the shared diffusion pipeline.
type Pipeline interface {
	Ready() bool
	Status() types.StatusResponse
}

// Options wires the HTTP surface to the services behind it.
type Options struct {
	Images   Generator
	Defaults illustration.Defaults
	Training Trainer
	Pipeline Pipeline

	Auth config.AuthConfig
	CORS config.CORSConfig
	// MaxBodyBytes limits JSON request bodies (default 1 MiB).
	MaxBodyBytes int64

	Logger zerolog.Logger
	// LogLevel is the request log level used when a request does not ask
	// for one (off, error, info, debug).
	LogLevel string
	// BaseContext is canceled on shutdown; handlers stop with it.
	BaseContext context.Context
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	return o
}
