package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"illustrationd/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliOptions holds flag values. Flags only override the config when set.
type cliOptions struct {
	configPath string
	envFile    string

	addr            string
	logLevel        string
	logFormat       string
	logFile         string
	storageDriver   string
	diffusionDriver string
	diffusionURL    string
	jobStore        string
	corsOrigins     string
	requestLogLevel string
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&cliOptions{}) }

// newRootCmdWith builds the command tree with flags bound to o.
func newRootCmdWith(o *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "illustrationd",
		Short:         "Illustration generation and adapter training service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(cmd, o)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&o.envFile, "env-file", ".env", "Env file read before the process environment (missing file is ignored)")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: console|json")
	pf.StringVar(&o.logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	pf.StringVar(&o.storageDriver, "storage-driver", "", "Blob store: s3|minio|memory")
	pf.StringVar(&o.diffusionDriver, "diffusion-driver", "", "Diffusion backend: http|spawn|mock")
	pf.StringVar(&o.diffusionURL, "diffusion-url", "", "Diffusion worker base URL (driver http)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(cmd, o)
		},
	}
	for _, c := range []*cobra.Command{root, serve} {
		c.Flags().StringVar(&o.addr, "addr", "", "HTTP listen address, e.g. :8000")
		c.Flags().StringVar(&o.jobStore, "job-store", "", "Training job store: memory|redis")
		c.Flags().StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated CORS origins; enables CORS when set")
		c.Flags().StringVar(&o.requestLogLevel, "request-log-level", "info", "Default per-request log level: off|error|info|debug")
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Probe the diffusion runtime, blob store and trainer, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCmd(cmd, o)
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "illustrationd", version)
		},
	}

	root.AddCommand(serve, check, ver)
	return root
}

// loadConfig resolves the configuration: defaults, then the config file,
// then the env file, then the process environment, then flags.
func loadConfig(cmd *cobra.Command, o *cliOptions, environ config.LookupFunc) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}

	fileEnv := map[string]string{}
	if o.envFile != "" {
		m, err := godotenv.Read(o.envFile)
		switch {
		case err == nil:
			fileEnv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read %s: %w", o.envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := environ(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := config.ApplyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("addr", &cfg.Addr, o.addr)
	set("log-level", &cfg.Log.Level, o.logLevel)
	set("log-format", &cfg.Log.Format, o.logFormat)
	set("log-file", &cfg.Log.File, o.logFile)
	set("storage-driver", &cfg.Storage.Driver, o.storageDriver)
	set("diffusion-driver", &cfg.Diffusion.Driver, o.diffusionDriver)
	set("diffusion-url", &cfg.Diffusion.URL, o.diffusionURL)
	set("job-store", &cfg.Training.JobStore, o.jobStore)
	if flags.Changed("cors-origins") {
		cfg.CORS.Origins = splitCSV(o.corsOrigins)
		cfg.CORS.Enabled = len(cfg.CORS.Origins) > 0
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func osLookup(key string) (string, bool) { return os.LookupEnv(key) }
