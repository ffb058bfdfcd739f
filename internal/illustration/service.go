// Package illustration runs the per-request generation workflow: fetch the
// user's conditioning image, pick the adapter, run the model through the
// pipeline manager and store the result.
package illustration

import (
	"bytes"
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/common/fsutil"
	"illustrationd/internal/diffusion"
	"illustrationd/internal/imageutil"
	"illustrationd/internal/manager"
)

// Pipeline is the part of the pipeline manager the orchestrator needs.
type Pipeline interface {
	Ready() bool
	IsLoaded(adapterID string) bool
	AttachAdapter(ctx context.Context, adapterID string) bool
	Generate(ctx context.Context, adapterID string, params diffusion.GenerateParams) (manager.Result, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store    blobstore.Store
	Keys     blobstore.Keys
	Pipeline Pipeline
	// WorkDir holds per-request staging directories.
	WorkDir string
	// Timeout bounds one Generate call end to end; 0 disables it.
	Timeout time.Duration
	// Conditioning sends the input image to the pipeline (IP-Adapter enabled).
	Conditioning bool
	// InstancePrompt prefixes the prompt when a trained adapter is applied.
	InstancePrompt string
	Logger         zerolog.Logger
}

// Service generates illustrations. It is safe for concurrent use.
type Service struct {
	cfg ServiceConfig
	log zerolog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg, log: cfg.Logger.With().Str("component", "illustration").Logger()}
}

// Ready reports whether generation requests can be served.
func (s *Service) Ready() bool { return s.cfg.Pipeline.Ready() }

// Generate produces one illustration for r and returns the URI of the stored
// image. Every failure is an *Error naming the stage. Local files created for
// the request are removed on every return path.
func (s *Service) Generate(ctx context.Context, r Request) (uri string, err error) {
	start := time.Now()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	log := s.log.With().Str("kind", string(r.Kind)).Str("user", r.UserID).Logger()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		}
		requestsTotal.WithLabelValues(string(r.Kind), outcome).Inc()
		requestDuration.WithLabelValues(string(r.Kind)).Observe(time.Since(start).Seconds())
	}()

	if !s.cfg.Pipeline.Ready() {
		return "", &Error{Stage: "startup", Kind: StartupFailure, Err: errors.New("diffusion pipeline is not ready")}
	}

	applied := false
	if r.AdapterID != "" {
		applied = s.cfg.Pipeline.IsLoaded(r.AdapterID) || s.cfg.Pipeline.AttachAdapter(ctx, r.AdapterID)
		if !applied {
			log.Warn().Str("event", "adapter_skipped").Str("adapter", r.AdapterID).Msg("adapter unavailable; generating without it")
		}
	}

	dir, cleanup, err := fsutil.StagingDir(s.cfg.WorkDir, "gen-*")
	if err != nil {
		return "", &Error{Stage: "staging", Kind: InferenceFailure, Err: err}
	}
	defer cleanup()

	inputKey := s.inputKey(r)
	local, err := blobstore.Download(ctx, s.cfg.Store, inputKey, dir)
	if err != nil {
		if blobstore.IsNotFound(err) {
			return "", &Error{Stage: "fetch_input", Kind: InputNotFound, Err: err}
		}
		return "", classify(ctx, "fetch_input", err, StorageFailure)
	}
	input, err := os.ReadFile(local)
	if err != nil {
		return "", &Error{Stage: "fetch_input", Kind: StorageFailure, Err: err}
	}
	if r.Kind == KindSubject {
		if err := imageutil.Validate(input); err != nil {
			return "", &Error{Stage: "validate_input", Kind: InvalidInput, Err: err}
		}
	}

	params := diffusion.GenerateParams{
		Prompt:         buildPrompt(r, s.cfg.InstancePrompt, applied),
		NegativePrompt: r.NegativePrompt,
		Steps:          r.Steps,
		GuidanceScale:  r.GuidanceScale,
		Seed:           r.Seed,
	}
	if s.cfg.Conditioning {
		params.ConditioningImage = input
		params.ConditioningScale = r.ConditioningScale
	}
	adapterID := ""
	if applied {
		adapterID = r.AdapterID
	}
	res, err := s.cfg.Pipeline.Generate(ctx, adapterID, params)
	if err != nil {
		return "", classify(ctx, "inference", err, InferenceFailure)
	}
	if applied && !res.AdapterApplied {
		log.Warn().Str("event", "adapter_lost").Str("adapter", r.AdapterID).Msg("adapter was not active for inference")
	}

	png, err := imageutil.EncodePNG(res.Image)
	if err != nil {
		return "", &Error{Stage: "encode", Kind: InferenceFailure, Err: err}
	}
	outKey := s.cfg.Keys.GeneratedKey(r.UserID, string(r.Kind))
	if err := s.cfg.Store.Put(ctx, outKey, bytes.NewReader(png), int64(len(png)), "image/png"); err != nil {
		return "", classify(ctx, "upload", err, UploadFailure)
	}
	uri = s.cfg.Store.URI(outKey)
	log.Info().Str("event", "generated").Str("uri", uri).Bool("adapter_applied", res.AdapterApplied).Dur("took", time.Since(start)).Msg("illustration stored")
	return uri, nil
}

func (s *Service) inputKey(r Request) string {
	if r.Kind == KindSubject {
		return s.cfg.Keys.SubjectKey(r.UserID)
	}
	return s.cfg.Keys.AvatarKey(r.UserID)
}
