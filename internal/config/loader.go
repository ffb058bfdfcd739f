package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service. It is built once at
// startup (Default, then Load, then ApplyEnv) and passed explicitly to every
// component.
type Config struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	WorkDir string `json:"work_dir" yaml:"work_dir" toml:"work_dir"`

	Log        LogConfig        `json:"log" yaml:"log" toml:"log"`
	HTTP       HTTPConfig       `json:"http" yaml:"http" toml:"http"`
	Auth       AuthConfig       `json:"auth" yaml:"auth" toml:"auth"`
	CORS       CORSConfig       `json:"cors" yaml:"cors" toml:"cors"`
	Model      ModelConfig      `json:"model" yaml:"model" toml:"model"`
	IPAdapter  IPAdapterConfig  `json:"ip_adapter" yaml:"ip_adapter" toml:"ip_adapter"`
	LoRA       LoRAConfig       `json:"lora" yaml:"lora" toml:"lora"`
	Generation GenerationConfig `json:"generation" yaml:"generation" toml:"generation"`
	Diffusion  DiffusionConfig  `json:"diffusion" yaml:"diffusion" toml:"diffusion"`
	Storage    StorageConfig    `json:"storage" yaml:"storage" toml:"storage"`
	Training   TrainingConfig   `json:"training" yaml:"training" toml:"training"`
	Redis      RedisConfig      `json:"redis" yaml:"redis" toml:"redis"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level"`
	Format     string `json:"format" yaml:"format" toml:"format"` // console|json
	File       string `json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
}

type HTTPConfig struct {
	MaxBodyBytes           int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ShutdownTimeoutSeconds int   `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

type AuthConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Token   string `json:"token" yaml:"token" toml:"token"`
}

type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// ModelConfig selects the base checkpoint. Precedence: S3Path, File, Pretrained.
type ModelConfig struct {
	S3Path             string `json:"s3_path" yaml:"s3_path" toml:"s3_path"`
	File               string `json:"file" yaml:"file" toml:"file"`
	Pretrained         string `json:"pretrained" yaml:"pretrained" toml:"pretrained"`
	RequireAccelerator bool   `json:"require_accelerator" yaml:"require_accelerator" toml:"require_accelerator"`
}

type IPAdapterConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Repo      string  `json:"repo" yaml:"repo" toml:"repo"`
	Subfolder string  `json:"subfolder" yaml:"subfolder" toml:"subfolder"`
	Weights   string  `json:"weights" yaml:"weights" toml:"weights"`
	Scale     float64 `json:"scale" yaml:"scale" toml:"scale"`
}

type LoRAConfig struct {
	// Static adapter attached at startup.
	Enabled     bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Weights     string `json:"weights" yaml:"weights" toml:"weights"`
	WeightsName string `json:"weights_name" yaml:"weights_name" toml:"weights_name"`
	// Upper bound on adapters loaded into the pipeline at once.
	MaxLoaded int `json:"max_loaded" yaml:"max_loaded" toml:"max_loaded"`
}

type GenerationConfig struct {
	Steps                 int     `json:"steps" yaml:"steps" toml:"steps"`
	GuidanceScale         float64 `json:"guidance_scale" yaml:"guidance_scale" toml:"guidance_scale"`
	NegativePrompt        string  `json:"negative_prompt" yaml:"negative_prompt" toml:"negative_prompt"`
	MemoryStylePrompt     string  `json:"memory_style_prompt" yaml:"memory_style_prompt" toml:"memory_style_prompt"`
	SubjectPrompt         string  `json:"subject_prompt" yaml:"subject_prompt" toml:"subject_prompt"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	Workers               int     `json:"workers" yaml:"workers" toml:"workers"`
	MaxQueueDepth         int     `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds        int     `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
}

type DiffusionConfig struct {
	Driver              string   `json:"driver" yaml:"driver" toml:"driver"` // http|spawn|mock
	URL                 string   `json:"url" yaml:"url" toml:"url"`
	WorkerBin           string   `json:"worker_bin" yaml:"worker_bin" toml:"worker_bin"`
	WorkerArgs          []string `json:"worker_args" yaml:"worker_args" toml:"worker_args"`
	Host                string   `json:"host" yaml:"host" toml:"host"`
	ReadyTimeoutSeconds int      `json:"ready_timeout_seconds" yaml:"ready_timeout_seconds" toml:"ready_timeout_seconds"`
	MockDevice          string   `json:"mock_device" yaml:"mock_device" toml:"mock_device"`
}

type StorageConfig struct {
	Driver          string `json:"driver" yaml:"driver" toml:"driver"` // s3|minio|memory
	Bucket          string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Region          string `json:"region" yaml:"region" toml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl" toml:"use_ssl"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key" toml:"secret_access_key"`
	AvatarPrefix    string `json:"avatar_prefix" yaml:"avatar_prefix" toml:"avatar_prefix"`
	SubjectPrefix   string `json:"subject_prefix" yaml:"subject_prefix" toml:"subject_prefix"`
	GeneratedPrefix string `json:"generated_prefix" yaml:"generated_prefix" toml:"generated_prefix"`
	LoRAPrefix      string `json:"lora_prefix" yaml:"lora_prefix" toml:"lora_prefix"`
	CacheDir        string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
}

type TrainingConfig struct {
	Launcher                  string  `json:"launcher" yaml:"launcher" toml:"launcher"`
	Script                    string  `json:"script" yaml:"script" toml:"script"`
	OutputDir                 string  `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	Workers                   int     `json:"workers" yaml:"workers" toml:"workers"`
	MaxQueueDepth             int     `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	JobStore                  string  `json:"job_store" yaml:"job_store" toml:"job_store"` // memory|redis
	InstanceToken             string  `json:"instance_token" yaml:"instance_token" toml:"instance_token"`
	InstancePromptTemplate    string  `json:"instance_prompt_template" yaml:"instance_prompt_template" toml:"instance_prompt_template"`
	LearningRate              float64 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate"`
	NumTrainEpochs            int     `json:"num_train_epochs" yaml:"num_train_epochs" toml:"num_train_epochs"`
	TrainBatchSize            int     `json:"train_batch_size" yaml:"train_batch_size" toml:"train_batch_size"`
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps" yaml:"gradient_accumulation_steps" toml:"gradient_accumulation_steps"`
	LoRARank                  int     `json:"lora_rank" yaml:"lora_rank" toml:"lora_rank"`
	LoRAAlpha                 int     `json:"lora_alpha" yaml:"lora_alpha" toml:"lora_alpha"`
	Resolution                int     `json:"resolution" yaml:"resolution" toml:"resolution"`
	RandomFlip                bool    `json:"random_flip" yaml:"random_flip" toml:"random_flip"`
	MixedPrecision            string  `json:"mixed_precision" yaml:"mixed_precision" toml:"mixed_precision"`
	GradientCheckpointing     bool    `json:"gradient_checkpointing" yaml:"gradient_checkpointing" toml:"gradient_checkpointing"`
	Seed                      int     `json:"seed" yaml:"seed" toml:"seed"`
	LRScheduler               string  `json:"lr_scheduler" yaml:"lr_scheduler" toml:"lr_scheduler"`
	LRWarmupSteps             int     `json:"lr_warmup_steps" yaml:"lr_warmup_steps" toml:"lr_warmup_steps"`
}

// InstancePrompt substitutes the instance token into the prompt template.
func (t TrainingConfig) InstancePrompt() string {
	return strings.ReplaceAll(t.InstancePromptTemplate, "{token}", t.InstanceToken)
}

type RedisConfig struct {
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	Password      string `json:"password" yaml:"password" toml:"password"`
	DB            int    `json:"db" yaml:"db" toml:"db"`
	KeyPrefix     string `json:"key_prefix" yaml:"key_prefix" toml:"key_prefix"`
	JobTTLSeconds int    `json:"job_ttl_seconds" yaml:"job_ttl_seconds" toml:"job_ttl_seconds"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Addr:    ":8000",
		WorkDir: filepath.Join(os.TempDir(), "illustrationd"),
		Log:     LogConfig{Level: "info", Format: "console", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		HTTP:    HTTPConfig{MaxBodyBytes: 1 << 20, ShutdownTimeoutSeconds: 10},
		CORS: CORSConfig{
			Origins: []string{"*"},
			Methods: []string{"GET", "POST", "OPTIONS"},
			Headers: []string{"Authorization", "Content-Type"},
		},
		Model: ModelConfig{
			Pretrained:         "stabilityai/stable-diffusion-xl-base-1.0",
			RequireAccelerator: true,
		},
		IPAdapter: IPAdapterConfig{Scale: 0.33},
		LoRA:      LoRAConfig{MaxLoaded: 4},
		Generation: GenerationConfig{
			Steps:                 50,
			GuidanceScale:         5.0,
			NegativePrompt:        "error, glitch, mistake",
			MemoryStylePrompt:     "highest quality, monochrome, professional sketch, personal, nostalgic, clean",
			SubjectPrompt:         "highest quality, professional sketch, monochrome",
			RequestTimeoutSeconds: 300,
			Workers:               1,
			MaxQueueDepth:         32,
			MaxWaitSeconds:        120,
		},
		Diffusion: DiffusionConfig{
			Driver:              "http",
			URL:                 "http://127.0.0.1:7860",
			Host:                "127.0.0.1",
			ReadyTimeoutSeconds: 600,
			MockDevice:          "cuda",
		},
		Storage: StorageConfig{
			Driver:          "s3",
			Region:          "us-east-1",
			UseSSL:          true,
			AvatarPrefix:    "avatars/",
			SubjectPrefix:   "subjects/",
			GeneratedPrefix: "generated/",
			LoRAPrefix:      "loras/",
			CacheDir:        filepath.Join(os.TempDir(), "illustrationd", "cache"),
		},
		Training: TrainingConfig{
			Launcher:                  "accelerate",
			OutputDir:                 "/tmp/lora_training",
			Workers:                   1,
			MaxQueueDepth:             16,
			JobStore:                  "memory",
			InstanceToken:             "SKS",
			InstancePromptTemplate:    "a photo of {token} person",
			LearningRate:              1e-4,
			NumTrainEpochs:            100,
			TrainBatchSize:            1,
			GradientAccumulationSteps: 1,
			LoRARank:                  16,
			LoRAAlpha:                 32,
			Resolution:                1024,
			RandomFlip:                true,
			MixedPrecision:            "bf16",
			GradientCheckpointing:     true,
			Seed:                      42,
			LRScheduler:               "constant",
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "illustrationd:", JobTTLSeconds: 7 * 24 * 3600},
	}
}

// Load reads a configuration file based on its extension on top of Default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for driver %q", c.Storage.Driver)
		}
		if c.Storage.Driver == "minio" && c.Storage.Endpoint == "" {
			return fmt.Errorf("storage.endpoint is required for driver minio")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}
	switch c.Diffusion.Driver {
	case "mock":
	case "http":
		if c.Diffusion.URL == "" {
			return fmt.Errorf("diffusion.url is required for driver http")
		}
	case "spawn":
		if c.Diffusion.WorkerBin == "" {
			return fmt.Errorf("diffusion.worker_bin is required for driver spawn")
		}
	default:
		return fmt.Errorf("unknown diffusion driver: %q", c.Diffusion.Driver)
	}
	switch c.Training.JobStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown training job store: %q", c.Training.JobStore)
	}
	if c.IPAdapter.Scale < 0 || c.IPAdapter.Scale > 1 {
		return fmt.Errorf("ip_adapter.scale must be within [0,1], got %v", c.IPAdapter.Scale)
	}
	if c.IPAdapter.Enabled && c.IPAdapter.Repo == "" {
		return fmt.Errorf("ip_adapter.repo is required when ip_adapter.enabled")
	}
	if c.LoRA.Enabled && c.LoRA.Weights == "" {
		return fmt.Errorf("lora.weights is required when lora.enabled")
	}
	if c.Generation.Steps <= 0 {
		return fmt.Errorf("generation.steps must be positive")
	}
	if c.Generation.Workers <= 0 || c.Training.Workers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	if c.Model.S3Path == "" && c.Model.File == "" && c.Model.Pretrained == "" {
		return fmt.Errorf("one of model.s3_path, model.file, model.pretrained is required")
	}
	return nil
}
