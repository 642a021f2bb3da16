package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/keagan/movescope/internal/analysis"
	"github.com/keagan/movescope/internal/ffmpeg"
	"github.com/keagan/movescope/internal/overlays"
	"github.com/keagan/movescope/internal/pose"
	"github.com/keagan/movescope/internal/progress"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// ErrInvalid is wrapped by Validate failures.
var ErrInvalid = errors.New("invalid configuration")

// Storage backends
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	WorkDir       string `yaml:"work_dir"`
	OutputDir     string `yaml:"output_dir"`
	Concurrency   int    `yaml:"concurrency"`
	KeepLandmarks bool   `yaml:"keep_landmarks"`

	FFmpeg   ffmpeg.Options  `yaml:"ffmpeg"`
	Pose     pose.Config     `yaml:"pose"`
	Analysis analysis.Config `yaml:"analysis"`
	Overlay  overlays.Config `yaml:"overlay"`

	Progress ProgressConfig      `yaml:"progress"`
	MQTT     progress.MQTTConfig `yaml:"mqtt"`
	Storage  StorageConfig       `yaml:"storage"`
	Cleanup  CleanupConfig       `yaml:"cleanup"`
}

type ProgressConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	Milestones  []float64     `yaml:"milestones"`
	Buffer      int           `yaml:"buffer"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	PostgresURL string `yaml:"postgres_url"`
}

type CleanupConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every section before any work starts.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalid)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalid)
	}
	if err := c.Pose.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Overlay.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		return fmt.Errorf("%w: ffmpeg.crf must be in [0,51]", ErrInvalid)
	}
	if c.Progress.MinInterval < 0 {
		return fmt.Errorf("%w: progress.min_interval must not be negative", ErrInvalid)
	}
	for _, m := range c.Progress.Milestones {
		if m < 0 || m > 1 {
			return fmt.Errorf("%w: progress milestone %v outside [0,1]", ErrInvalid, m)
		}
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("%w: storage.postgres_url is required for the postgres backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalid, c.Storage.Backend)
	}
	if c.Cleanup.MaxAge < 0 || c.Cleanup.Interval < 0 {
		return fmt.Errorf("%w: cleanup durations must not be negative", ErrInvalid)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		WorkDir:     "./work",
		OutputDir:   "./outputs",
		Concurrency: 2,
		FFmpeg:      ffmpeg.DefaultOptions(),
		Pose:        pose.DefaultConfig(),
		Analysis:    analysis.DefaultConfig(),
		Overlay:     overlays.DefaultConfig(),
		Progress: ProgressConfig{
			MinInterval: 500 * time.Millisecond,
			Milestones:  append([]float64(nil), progress.DefaultMilestones...),
			Buffer:      16,
		},
		MQTT: progress.DefaultMQTTConfig(),
		Storage: StorageConfig{
			Backend: StorageMemory,
		},
		Cleanup: CleanupConfig{
			MaxAge:   24 * time.Hour,
			Interval: time.Hour,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func findConfigFile() string {
	candidates := []string{
		"./movescope.yaml",
		"./movescope.yml",
		filepath.Join(os.Getenv("HOME"), ".movescope", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
