package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg. The deployment names used
// by existing installs (MODEL_PATH, S3_BUCKET_NAME, ...) are honoured next to
// the ILLUSTRATIOND_* service options.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("ILLUSTRATIOND_ADDR", &cfg.Addr)
	e.str("ILLUSTRATIOND_WORK_DIR", &cfg.WorkDir)
	e.str("ILLUSTRATIOND_LOG_LEVEL", &cfg.Log.Level)
	e.str("ILLUSTRATIOND_LOG_FORMAT", &cfg.Log.Format)
	e.str("ILLUSTRATIOND_LOG_FILE", &cfg.Log.File)

	e.str("MODEL_S3_PATH", &cfg.Model.S3Path)
	e.str("MODEL_FILE", &cfg.Model.File)
	e.str("MODEL_PATH", &cfg.Model.Pretrained)
	e.boolean("ILLUSTRATIOND_REQUIRE_ACCELERATOR", &cfg.Model.RequireAccelerator)

	e.boolean("ENABLE_IP_ADAPTER", &cfg.IPAdapter.Enabled)
	e.str("IP_ADAPTER", &cfg.IPAdapter.Repo)
	e.str("IP_ADAPTER_SUBFOLDER", &cfg.IPAdapter.Subfolder)
	e.str("IP_ADAPTER_WEIGHTS", &cfg.IPAdapter.Weights)
	e.float("IP_ADAPTER_SCALE", &cfg.IPAdapter.Scale)

	e.boolean("ENABLE_LORA", &cfg.LoRA.Enabled)
	e.str("LORA_WEIGHTS", &cfg.LoRA.Weights)
	e.str("LORA_WEIGHTS_NAME", &cfg.LoRA.WeightsName)
	e.integer("ILLUSTRATIOND_LORA_MAX_LOADED", &cfg.LoRA.MaxLoaded)

	e.integer("NUM_INFERENCE_STEPS", &cfg.Generation.Steps)
	e.str("NEGATIVE_PROMPT", &cfg.Generation.NegativePrompt)
	e.str("STYLE_PROMPT", &cfg.Generation.MemoryStylePrompt)
	e.str("SUBJECT_PROMPT", &cfg.Generation.SubjectPrompt)
	e.integer("ILLUSTRATIOND_REQUEST_TIMEOUT_SECONDS", &cfg.Generation.RequestTimeoutSeconds)
	e.integer("ILLUSTRATIOND_MAX_QUEUE_DEPTH", &cfg.Generation.MaxQueueDepth)
	e.integer("ILLUSTRATIOND_MAX_WAIT_SECONDS", &cfg.Generation.MaxWaitSeconds)

	e.boolean("AUTH_ENABLED", &cfg.Auth.Enabled)
	e.str("AUTH_TOKEN", &cfg.Auth.Token)

	e.str("ILLUSTRATIOND_STORAGE_DRIVER", &cfg.Storage.Driver)
	e.str("S3_BUCKET_NAME", &cfg.Storage.Bucket)
	e.str("AWS_REGION", &cfg.Storage.Region)
	e.str("AWS_ACCESS_KEY_ID", &cfg.Storage.AccessKeyID)
	e.str("AWS_SECRET_ACCESS_KEY", &cfg.Storage.SecretAccessKey)
	e.str("S3_ENDPOINT", &cfg.Storage.Endpoint)
	e.str("S3_AVATAR_PREFIX", &cfg.Storage.AvatarPrefix)
	e.str("S3_SUBJECT_PREFIX", &cfg.Storage.SubjectPrefix)
	e.str("S3_GENERATED_PREFIX", &cfg.Storage.GeneratedPrefix)
	e.str("S3_LORA_PREFIX", &cfg.Storage.LoRAPrefix)
	e.str("ILLUSTRATIOND_CACHE_DIR", &cfg.Storage.CacheDir)

	e.str("ILLUSTRATIOND_DIFFUSION_DRIVER", &cfg.Diffusion.Driver)
	e.str("ILLUSTRATIOND_DIFFUSION_URL", &cfg.Diffusion.URL)
	e.str("ILLUSTRATIOND_DIFFUSION_WORKER_BIN", &cfg.Diffusion.WorkerBin)

	e.str("ILLUSTRATIOND_TRAINING_SCRIPT", &cfg.Training.Script)
	e.str("ILLUSTRATIOND_TRAINING_OUTPUT_DIR", &cfg.Training.OutputDir)
	e.str("ILLUSTRATIOND_JOB_STORE", &cfg.Training.JobStore)
	e.str("REDIS_ADDR", &cfg.Redis.Addr)
	e.str("REDIS_PASSWORD", &cfg.Redis.Password)
	e.integer("REDIS_DB", &cfg.Redis.DB)

	return e.err
}

// envReader records the first parse error and skips unset or empty values.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}
