package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"illustrationd/internal/common/fsutil"
	"illustrationd/internal/common/procutil"
	"illustrationd/internal/config"
)

// TrainSpec is everything one training run needs.
type TrainSpec struct {
	BaseModel      string
	DatasetDir     string
	OutputDir      string
	InstancePrompt string
	LearningRate   float64
	NumTrainEpochs int
	LoRARank       int
	LoRAAlpha      int
}

// Trainer produces adapter weights from a prepared dataset and returns the
// path of the weights file.
type Trainer interface {
	Train(ctx context.Context, spec TrainSpec) (string, error)
}

// ErrTrainerUnavailable is returned when no training script can be found.
var ErrTrainerUnavailable = errors.New("training script not found")

// wellKnownScripts are searched when no script is configured.
var wellKnownScripts = []string{
	"/opt/diffusers/examples/dreambooth/train_dreambooth_lora_sdxl.py",
	"~/diffusers/examples/dreambooth/train_dreambooth_lora_sdxl.py",
	"./diffusers/examples/dreambooth/train_dreambooth_lora_sdxl.py",
}

const weightsFile = "pytorch_lora_weights.safetensors"

// AccelerateTrainer runs the DreamBooth LoRA script through the accelerate
// launcher as a child process.
type AccelerateTrainer struct {
	cfg config.TrainingConfig
	log zerolog.Logger
	// Grace is how long the launcher gets to exit after SIGTERM on cancel.
	Grace time.Duration
}

func NewAccelerateTrainer(cfg config.TrainingConfig, log zerolog.Logger) *AccelerateTrainer {
	return &AccelerateTrainer{cfg: cfg, log: log.With().Str("component", "trainer").Logger(), Grace: 10 * time.Second}
}

// Script returns the training script to run, or "" if none exists.
func (t *AccelerateTrainer) Script() string {
	candidates := wellKnownScripts
	if t.cfg.Script != "" {
		candidates = []string{t.cfg.Script}
	}
	for _, c := range candidates {
		p, err := fsutil.ExpandHome(c)
		if err != nil {
			continue
		}
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Check reports whether the launcher and script are available.
func (t *AccelerateTrainer) Check() error {
	if _, err := exec.LookPath(t.launcher()); err != nil {
		return fmt.Errorf("launcher %q: %w", t.launcher(), err)
	}
	if t.Script() == "" {
		return ErrTrainerUnavailable
	}
	return nil
}

func (t *AccelerateTrainer) launcher() string {
	if t.cfg.Launcher == "" {
		return "accelerate"
	}
	return t.cfg.Launcher
}

// Args builds the launcher command line for spec.
func (t *AccelerateTrainer) Args(script string, spec TrainSpec) []string {
	c := t.cfg
	args := []string{
		"launch", script,
		"--pretrained_model_name_or_path", spec.BaseModel,
		"--instance_data_dir", spec.DatasetDir,
		"--instance_prompt", spec.InstancePrompt,
		"--output_dir", spec.OutputDir,
		"--resolution", strconv.Itoa(c.Resolution),
		"--train_batch_size", strconv.Itoa(c.TrainBatchSize),
		"--gradient_accumulation_steps", strconv.Itoa(c.GradientAccumulationSteps),
		"--learning_rate", strconv.FormatFloat(spec.LearningRate, 'g', -1, 64),
		"--lr_scheduler", c.LRScheduler,
		"--lr_warmup_steps", strconv.Itoa(c.LRWarmupSteps),
		"--num_train_epochs", strconv.Itoa(spec.NumTrainEpochs),
		"--lora_rank", strconv.Itoa(spec.LoRARank),
		"--lora_alpha", strconv.Itoa(spec.LoRAAlpha),
		"--mixed_precision", c.MixedPrecision,
		"--seed", strconv.Itoa(c.Seed),
	}
	if c.RandomFlip {
		args = append(args, "--random_flip")
	}
	if c.GradientCheckpointing {
		args = append(args, "--gradient_checkpointing")
	}
	return args
}

// Train runs the launcher and waits for it. Cancelling ctx terminates the
// process (SIGTERM, then SIGKILL after Grace).
func (t *AccelerateTrainer) Train(ctx context.Context, spec TrainSpec) (string, error) {
	script := t.Script()
	if script == "" {
		return "", ErrTrainerUnavailable
	}
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return "", err
	}
	args := t.Args(script, spec)
	cmd := exec.Command(t.launcher(), args...)
	cmd.Dir = spec.OutputDir
	// Children of the launcher may keep the output pipes open after it exits.
	cmd.WaitDelay = t.Grace
	stderr := procutil.NewTailBuffer(8 << 10)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard
	if t.log.GetLevel() <= zerolog.DebugLevel {
		cmd.Stdout = t.log.With().Str("stream", "stdout").Logger()
	}
	t.log.Info().Str("event", "train_start").Str("launcher", t.launcher()).Strs("args", args).Msg("starting training process")
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", t.launcher(), err)
	}
	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-ctx.Done():
		t.log.Warn().Str("event", "train_cancel").Msg("terminating training process")
		procutil.Terminate(cmd, exited, t.Grace)
		return "", ctx.Err()
	}
	if waitErr != nil {
		return "", fmt.Errorf("training process failed: %v: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	t.log.Info().Str("event", "train_done").Dur("took", time.Since(start)).Msg("training process finished")
	return findWeights(spec.OutputDir)
}

// findWeights prefers the conventional file name and falls back to the first
// .safetensors file in dir.
func findWeights(dir string) (string, error) {
	p := filepath.Join(dir, weightsFile)
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		return p, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".safetensors") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no adapter weights in %s", dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}
