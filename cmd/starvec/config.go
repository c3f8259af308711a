package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the user defaults file (~/.config/starvec/config.yaml). Pointer
// fields distinguish "not set" from zero values.
type Config struct {
	Model     string `yaml:"model"`
	ModelsDir string `yaml:"models_dir"`
	Device    string `yaml:"device"`
	DType     string `yaml:"dtype"`

	MaxLength   *int     `yaml:"max_length"`
	Temperature *float64 `yaml:"temperature"`
	TopK        *int     `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`
	Seed        *int64   `yaml:"seed"`
	OutDir      string   `yaml:"out_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string         `yaml:"server_address"`
	CacheTTL      *time.Duration `yaml:"cache_ttl"`
	RateLimit     *float64       `yaml:"rate_limit"`
}

const envConfigFile = "STARVEC_CONFIG"

func configPath() string {
	if p := os.Getenv(envConfigFile); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "starvec", "config.yaml")
}

// LoadConfig reads path. A missing file is an empty Config; a malformed one
// is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig fills the shared model flags that were not given on the
// command line.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.Device != "" && !c.IsSet("device") {
		device = cfg.Device
	}
	if cfg.DType != "" && !c.IsSet("dtype") {
		dtype = cfg.DType
	}
}

type runSettings struct {
	maxLength   int64
	temperature float64
	topK        int64
	topP        float64
	seed        int64
	outDir      string
}

func applyRunConfig(c *cli.Command, cfg Config, s *runSettings) {
	applyModelConfig(c, cfg)
	if cfg.MaxLength != nil && !c.IsSet("max-length") {
		s.maxLength = int64(*cfg.MaxLength)
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		s.temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		s.topK = int64(*cfg.TopK)
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		s.topP = *cfg.TopP
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		s.seed = *cfg.Seed
	}
	if cfg.OutDir != "" && !c.IsSet("out-dir") {
		s.outDir = cfg.OutDir
	}
}

type serveSettings struct {
	addr      string
	cacheTTL  time.Duration
	rateLimit float64
}

func applyServeConfig(c *cli.Command, cfg Config, s *serveSettings) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		s.addr = cfg.ServerAddress
	}
	if cfg.CacheTTL != nil && !c.IsSet("cache-ttl") {
		s.cacheTTL = *cfg.CacheTTL
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		s.rateLimit = *cfg.RateLimit
	}
}
