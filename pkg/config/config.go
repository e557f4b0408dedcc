// Package config loads and validates assembler settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-assembler/pkg/export"
	"github.com/dd0wney/cluso-assembler/pkg/factory"
	"github.com/dd0wney/cluso-assembler/pkg/graph"
	"github.com/dd0wney/cluso-assembler/pkg/links"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/pools"
)

// Config is the full assembler configuration
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Frame      FrameConfig      `yaml:"frame"`
	Factory    FactoryConfig    `yaml:"factory"`
	Links      LinksConfig      `yaml:"links"`
	Progress   ProgressConfig   `yaml:"progress"`
	Population PopulationConfig `yaml:"population"`
	Export     ExportConfig     `yaml:"export"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// FrameConfig drives the consuming loop
type FrameConfig struct {
	Budget    time.Duration `yaml:"budget"`
	Interval  time.Duration `yaml:"interval"`
	QueueSize int           `yaml:"queue_size"`
}

// FactoryConfig sets per-tick quotas and shell pool refill
type FactoryConfig struct {
	ProduceQuota int `yaml:"produce_quota"`
	ReadyQuota   int `yaml:"ready_quota"`
	LowWater     int `yaml:"low_water"`
	Replenish    int `yaml:"replenish"`
	Burst        int `yaml:"burst"`
}

// LinksConfig tunes the link import pipeline
type LinksConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	ResolvePoll    time.Duration `yaml:"resolve_poll"`
	Ceiling        int           `yaml:"visible_ceiling"`
	ReadyThreshold float64       `yaml:"ready_threshold"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
}

// ProgressConfig sets the reporting cadence
type ProgressConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// PopulationConfig bounds the field population backoff
type PopulationConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	StuckAfter time.Duration `yaml:"stuck_after"`
}

// ExportConfig selects where snapshots go. An empty Dir and Bucket disables
// export.
type ExportConfig struct {
	Dir    string          `yaml:"dir"`
	Format string          `yaml:"format"`
	Bucket string          `yaml:"bucket"`
	Prefix string          `yaml:"prefix"`
	S3     export.S3Config `yaml:"s3"`
}

// HTTPConfig configures the metrics and health listener. An empty Addr
// disables it.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the standard settings
func Default() *Config {
	refill := pools.DefaultRefill
	fopts := factory.DefaultOptions()
	lcfg := links.DefaultConfig()
	gopts := graph.DefaultOptions()
	return &Config{
		LogLevel: "info",
		Frame: FrameConfig{
			Budget:    8 * time.Millisecond,
			Interval:  16 * time.Millisecond,
			QueueSize: 4096,
		},
		Factory: FactoryConfig{
			ProduceQuota: fopts.ProduceQuota,
			ReadyQuota:   fopts.ReadyQuota,
			LowWater:     refill.LowWater,
			Replenish:    refill.Replenish,
			Burst:        refill.Burst,
		},
		Links: LinksConfig{
			BatchSize:      lcfg.BatchSize,
			MaxInFlight:    lcfg.MaxInFlight,
			ResolveTimeout: lcfg.ResolveTimeout,
			ResolvePoll:    lcfg.ResolvePoll,
			Ceiling:        lcfg.Ceiling,
			ReadyThreshold: 0.9,
			ReadyTimeout:   30 * time.Second,
		},
		Progress: ProgressConfig{Interval: 250 * time.Millisecond},
		Population: PopulationConfig{
			MinBackoff: gopts.PopulationMin,
			MaxBackoff: gopts.PopulationMax,
			StuckAfter: 5 * time.Second,
		},
		Export: ExportConfig{Format: string(export.FormatJSON)},
		HTTP: HTTPConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ASSEMBLER_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" && c.Export.S3.AccessKey == "" {
		c.Export.S3.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" && c.Export.S3.SecretKey == "" {
		c.Export.S3.SecretKey = v
	}
}

// Level returns the configured log level
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// FactoryOptions converts the factory section
func (c *Config) FactoryOptions() factory.Options {
	return factory.Options{
		ProduceQuota: c.Factory.ProduceQuota,
		ReadyQuota:   c.Factory.ReadyQuota,
		Refill: pools.Refill{
			LowWater:  c.Factory.LowWater,
			Replenish: c.Factory.Replenish,
			Burst:     c.Factory.Burst,
		},
	}
}

// PipelineConfig converts the links section
func (c *Config) PipelineConfig() links.Config {
	return links.Config{
		BatchSize:      c.Links.BatchSize,
		MaxInFlight:    c.Links.MaxInFlight,
		ResolveTimeout: c.Links.ResolveTimeout,
		ResolvePoll:    c.Links.ResolvePoll,
		Ceiling:        c.Links.Ceiling,
	}
}

// RegistryOptions converts the population section
func (c *Config) RegistryOptions() graph.Options {
	return graph.Options{PopulationMin: c.Population.MinBackoff, PopulationMax: c.Population.MaxBackoff}
}

// ExportFormat returns the snapshot encoding
func (c *Config) ExportFormat() export.Format {
	return export.Format(c.Export.Format)
}
