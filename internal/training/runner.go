package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"illustrationd/internal/blobstore"
	"illustrationd/internal/common/fsutil"
	"illustrationd/internal/config"
	"illustrationd/internal/imageutil"
)

const (
	downloadConcurrency = 4
	// maxDatasetSide bounds staged images; the trainer resizes to its own
	// resolution anyway.
	maxDatasetSide = 2048
)

// StartRequest asks for a new adapter trained on the images under ImagesPath.
// Nil hyperparameters take the configured defaults.
type StartRequest struct {
	UserID         string
	ImagesPath     string
	LoRAName       string
	LearningRate   *float64
	NumTrainEpochs *int
	LoRARank       *int
	LoRAAlpha      *int
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Store   blobstore.Store
	Keys    blobstore.Keys
	Jobs    JobStore
	Trainer Trainer
	// Training supplies defaults, worker count, queue depth and OutputDir.
	Training config.TrainingConfig
	// BaseModel resolves the checkpoint the trainer starts from.
	BaseModel func(ctx context.Context) (string, error)
	Logger    zerolog.Logger
}

type task struct {
	job  Job
	spec StartRequest
}

// Runner accepts training jobs and works through them on a fixed number of
// background workers. Start never blocks on training.
type Runner struct {
	cfg   RunnerConfig
	log   zerolog.Logger
	queue chan task

	mu      sync.Mutex
	running bool
	now     func() time.Time
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Jobs == nil {
		cfg.Jobs = NewMemoryStore()
	}
	depth := cfg.Training.MaxQueueDepth
	if depth <= 0 {
		depth = 16
	}
	return &Runner{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "training").Logger(),
		queue: make(chan task, depth),
		now:   time.Now,
	}
}

// Start validates req, records a pending job and queues it.
func (r *Runner) Start(ctx context.Context, req StartRequest) (Job, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ImagesPath = strings.TrimSpace(req.ImagesPath)
	if err := r.validateStart(req); err != nil {
		return Job{}, err
	}
	now := r.now()
	job := Job{
		JobID:     uuid.NewString(),
		UserID:    req.UserID,
		Status:    StatusPending,
		LoRAID:    uuid.NewString(),
		LoRAName:  req.LoRAName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.cfg.Jobs.Create(ctx, job); err != nil {
		return Job{}, err
	}
	select {
	case r.queue <- task{job: job, spec: req}:
	default:
		jobsTotal.WithLabelValues("rejected").Inc()
		_, _ = r.cfg.Jobs.Transition(ctx, job.JobID, StatusFailed, func(j *Job) { j.ErrorMessage = "training queue is full" })
		return Job{}, queueFullError{}
	}
	jobsTotal.WithLabelValues(string(StatusPending)).Inc()
	r.log.Info().Str("event", "job_queued").Str("job", job.JobID).Str("lora", job.LoRAID).Str("user", job.UserID).Msg("training job accepted")
	return job, nil
}

func (r *Runner) validateStart(req StartRequest) error {
	if req.UserID == "" {
		return validationError{msg: "user_id is required"}
	}
	if req.ImagesPath == "" {
		return validationError{msg: "training_images_s3_path is required"}
	}
	if _, err := r.imagesPrefix(req.ImagesPath); err != nil {
		return validationError{msg: "training_images_s3_path: " + err.Error()}
	}
	if req.LearningRate != nil && (*req.LearningRate <= 0 || *req.LearningRate > 1) {
		return validationError{msg: "learning_rate must be within (0,1]"}
	}
	if req.NumTrainEpochs != nil && *req.NumTrainEpochs <= 0 {
		return validationError{msg: "num_train_epochs must be positive"}
	}
	if req.LoRARank != nil && *req.LoRARank <= 0 {
		return validationError{msg: "lora_rank must be positive"}
	}
	if req.LoRAAlpha != nil && *req.LoRAAlpha <= 0 {
		return validationError{msg: "lora_alpha must be positive"}
	}
	return nil
}

// Status returns the job record for id.
func (r *Runner) Status(ctx context.Context, id string) (Job, error) {
	return r.cfg.Jobs.Get(ctx, id)
}

// Run starts the workers and blocks until ctx is done and every worker has
// returned. Jobs still queued at shutdown are marked failed.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already running")
	}
	r.running = true
	r.mu.Unlock()

	workers := r.cfg.Training.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case t := <-r.queue:
					r.process(gctx, t)
				}
			}
		})
	}
	err := g.Wait()
	r.failQueued()
	return err
}

func (r *Runner) failQueued() {
	for {
		select {
		case t := <-r.queue:
			_, _ = r.cfg.Jobs.Transition(context.Background(), t.job.JobID, StatusFailed, func(j *Job) {
				j.ErrorMessage = "service shut down before the job started"
			})
			jobsTotal.WithLabelValues(string(StatusFailed)).Inc()
		default:
			return
		}
	}
}

// process runs one job to a terminal status.
func (r *Runner) process(ctx context.Context, t task) {
	log := r.log.With().Str("job", t.job.JobID).Str("lora", t.job.LoRAID).Logger()
	if _, err := r.cfg.Jobs.Transition(ctx, t.job.JobID, StatusRunning, nil); err != nil {
		log.Error().Err(err).Msg("cannot mark job running")
		return
	}
	jobsTotal.WithLabelValues(string(StatusRunning)).Inc()
	start := time.Now()
	uri, err := r.train(ctx, t, log)
	// Record the outcome even if ctx was canceled mid-run.
	sctx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error().Str("event", "job_failed").Err(err).Dur("took", time.Since(start)).Msg("training failed")
		_, _ = r.cfg.Jobs.Transition(sctx, t.job.JobID, StatusFailed, func(j *Job) { j.ErrorMessage = err.Error() })
		jobsTotal.WithLabelValues(string(StatusFailed)).Inc()
		return
	}
	_, _ = r.cfg.Jobs.Transition(sctx, t.job.JobID, StatusCompleted, func(j *Job) { j.S3URI = uri })
	jobsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	log.Info().Str("event", "job_completed").Str("uri", uri).Dur("took", time.Since(start)).Msg("adapter trained and uploaded")
}

func (r *Runner) train(ctx context.Context, t task, log zerolog.Logger) (string, error) {
	dir, cleanup, err := fsutil.StagingDir(r.cfg.Training.OutputDir, t.job.LoRAID+"-*")
	if err != nil {
		return "", err
	}
	defer cleanup()

	prefix, err := r.imagesPrefix(t.spec.ImagesPath)
	if err != nil {
		return "", err
	}
	raw, err := r.download(ctx, prefix, filepath.Join(dir, "raw"))
	if err != nil {
		return "", err
	}
	dataset := filepath.Join(dir, "dataset")
	n, err := stageDataset(raw, dataset, log)
	if err != nil {
		return "", err
	}
	log.Info().Str("event", "dataset_ready").Int("images", n).Int("downloaded", len(raw)).Msg("training dataset staged")

	base := ""
	if r.cfg.BaseModel != nil {
		if base, err = r.cfg.BaseModel(ctx); err != nil {
			return "", fmt.Errorf("resolve base model: %w", err)
		}
	}
	weights, err := r.cfg.Trainer.Train(ctx, r.resolveSpec(t.spec, base, dataset, filepath.Join(dir, "output")))
	if err != nil {
		return "", err
	}

	f, err := os.Open(weights)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	key := r.cfg.Keys.LoRAKey(t.job.LoRAID)
	if err := r.cfg.Store.Put(ctx, key, f, fi.Size(), "application/octet-stream"); err != nil {
		return "", fmt.Errorf("upload adapter: %w", err)
	}
	return r.cfg.Store.URI(key), nil
}

// imagesPrefix resolves a dataset location to a key prefix in the configured
// bucket. A bucket named in the URI must be that bucket. The prefix always
// ends in "/" so "training/u1" does not pick up "training/u10/".
func (r *Runner) imagesPrefix(path string) (string, error) {
	bucket, key, err := blobstore.ParseURI(path)
	if err != nil {
		return "", err
	}
	if bucket != "" {
		own, _, _ := blobstore.ParseURI(r.cfg.Store.URI(""))
		if bucket != own {
			return "", fmt.Errorf("bucket %q is not the configured bucket %q", bucket, own)
		}
	}
	key = strings.Trim(key, "/")
	if key == "" {
		return "", errors.New("a prefix inside the bucket is required")
	}
	return key + "/", nil
}

// download fetches every object under prefix into dir concurrently and
// returns the local paths in key order.
func (r *Runner) download(ctx context.Context, prefix, dir string) ([]string, error) {
	keys, err := r.cfg.Store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var objects []string
	for _, k := range keys {
		if !strings.HasSuffix(k, "/") {
			objects = append(objects, k)
		}
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no training images found under %q", prefix)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)
	for i, k := range objects {
		g.Go(func() error {
			p, err := blobstore.Download(gctx, r.cfg.Store, k, dir)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// stageDataset re-encodes every decodable image as dataset/NNNN.png and
// skips the rest. It fails if nothing usable remains.
func stageDataset(paths []string, dataset string, log zerolog.Logger) (int, error) {
	if err := os.MkdirAll(dataset, 0o755); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		dst := filepath.Join(dataset, fmt.Sprintf("%04d.png", n))
		if err := imageutil.NormalizeFile(p, dst, maxDatasetSide); err != nil {
			log.Warn().Str("event", "image_skipped").Str("file", filepath.Base(p)).Err(err).Msg("discarding invalid training image")
			continue
		}
		n++
	}
	if n == 0 {
		return 0, errors.New("no valid training images")
	}
	return n, nil
}

func (r *Runner) resolveSpec(req StartRequest, base, dataset, output string) TrainSpec {
	c := r.cfg.Training
	s := TrainSpec{
		BaseModel:      base,
		DatasetDir:     dataset,
		OutputDir:      output,
		InstancePrompt: c.InstancePrompt(),
		LearningRate:   c.LearningRate,
		NumTrainEpochs: c.NumTrainEpochs,
		LoRARank:       c.LoRARank,
		LoRAAlpha:      c.LoRAAlpha,
	}
	if req.LearningRate != nil {
		s.LearningRate = *req.LearningRate
	}
	if req.NumTrainEpochs != nil {
		s.NumTrainEpochs = *req.NumTrainEpochs
	}
	if req.LoRARank != nil {
		s.LoRARank = *req.LoRARank
	}
	if req.LoRAAlpha != nil {
		s.LoRAAlpha = *req.LoRAAlpha
	}
	return s
}
