// Package config holds the pipeline manager configuration.
//
// Runtime knobs come from the environment (12-factor, via envconfig); the
// panel description comes from a YAML profile named by EINK_PANEL_PROFILE.
//
// Environment variables:
//   - EINK_PANEL_PROFILE, EINK_RING_REGIONS, EINK_PREDECODE_FRAMES
//   - EINK_RETRY_ATTEMPTS, EINK_RETRY_BACKOFF, EINK_TRIGGER_QUEUE
//   - EINK_BATCHING, EINK_AUTO_RELEASE, EINK_WAVE_DUMP, EINK_WAVE_DUMP_DIR
//   - LOG_LEVEL, LOG_DEV, METRICS_ADDR
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"einkpipe-go/errcode"
	"einkpipe-go/types"
)

// Config holds all manager configuration.
type Config struct {
	PanelProfile string `envconfig:"EINK_PANEL_PROFILE"`
	Pipeline     PipelineConfig
	Logging      LogConfig
	Metrics      MetricsConfig

	// Panel is filled from PanelProfile (or DefaultPanel) by Load.
	Panel types.Panel `ignored:"true"`
}

// PipelineConfig tunes the decode/transfer pipeline.
type PipelineConfig struct {
	RingRegions     int           `envconfig:"EINK_RING_REGIONS" default:"4"`
	PreDecodeFrames int           `envconfig:"EINK_PREDECODE_FRAMES" default:"2"`
	RetryAttempts   int           `envconfig:"EINK_RETRY_ATTEMPTS" default:"200"`
	RetryBackoff    time.Duration `envconfig:"EINK_RETRY_BACKOFF" default:"5ms"`
	TriggerQueue    int           `envconfig:"EINK_TRIGGER_QUEUE" default:"64"`
	Batching        bool          `envconfig:"EINK_BATCHING" default:"true"`
	AutoRelease     bool          `envconfig:"EINK_AUTO_RELEASE" default:"false"`
	WaveDump        bool          `envconfig:"EINK_WAVE_DUMP" default:"false"`
	WaveDumpDir     string        `envconfig:"EINK_WAVE_DUMP_DIR" default:"/data"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig controls the Prometheus endpoint; empty Addr disables it.
type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:""`
}

// Load loads configuration from environment variables and the panel profile.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Panel = DefaultPanel()
	if cfg.PanelProfile != "" {
		p, err := LoadPanel(cfg.PanelProfile)
		if err != nil {
			return nil, err
		}
		cfg.Panel = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			RingRegions:     4,
			PreDecodeFrames: 2,
			RetryAttempts:   200,
			RetryBackoff:    5 * time.Millisecond,
			TriggerQueue:    64,
			Batching:        true,
			WaveDumpDir:     "/data",
		},
		Logging: LogConfig{Level: "info"},
		Panel:   DefaultPanel(),
	}
}

// Validate checks ranges that the pipeline relies on.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.RingRegions < 2:
		return errcode.New(errcode.InvalidParams, "config", "ring needs at least 2 regions")
	case p.PreDecodeFrames < 1 || p.PreDecodeFrames >= p.RingRegions:
		return errcode.New(errcode.InvalidParams, "config", "pre-decode frames must be in [1, ring regions)")
	case p.RetryAttempts < 1:
		return errcode.New(errcode.InvalidParams, "config", "retry attempts must be positive")
	case p.RetryBackoff < 0:
		return errcode.New(errcode.InvalidParams, "config", "retry backoff must not be negative")
	case p.TriggerQueue < 1:
		return errcode.New(errcode.InvalidParams, "config", "trigger queue must be positive")
	}
	return c.Panel.Validate()
}
