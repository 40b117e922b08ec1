// Package config loads the simulation's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the simulation reads at startup.
type Config struct {
	// DatabasePath is the SQLite file backing the event log.
	DatabasePath string `yaml:"database_path"`

	// TimeScale is the initial wall-to-simulated time ratio.
	TimeScale float64 `yaml:"time_scale"`

	// TickInterval is the wall-clock period of the run loop.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Checkpoint cadence: a snapshot every N events or every T
	// simulated seconds, whichever fires first. Zero disables a trigger.
	CheckpointEveryEvents int     `yaml:"checkpoint_every_events"`
	CheckpointEverySim    float64 `yaml:"checkpoint_every_sim_seconds"`

	// KeepCheckpoints bounds how many snapshots survive pruning.
	// Zero keeps everything.
	KeepCheckpoints int `yaml:"keep_checkpoints"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DatabasePath:          "strategos.db",
		TimeScale:             1.0,
		TickInterval:          100 * time.Millisecond,
		CheckpointEveryEvents: 100,
		CheckpointEverySim:    60.0,
		LogLevel:              "info",
	}
}

// Load reads a YAML config file over the defaults. Fields missing from
// the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the simulation cannot start with.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.TimeScale <= 0 {
		return fmt.Errorf("time_scale must be positive, got %v", c.TimeScale)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.CheckpointEveryEvents < 0 {
		return fmt.Errorf("checkpoint_every_events must not be negative, got %d", c.CheckpointEveryEvents)
	}
	if c.CheckpointEverySim < 0 {
		return fmt.Errorf("checkpoint_every_sim_seconds must not be negative, got %v", c.CheckpointEverySim)
	}
	if c.KeepCheckpoints < 0 {
		return fmt.Errorf("keep_checkpoints must not be negative, got %d", c.KeepCheckpoints)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}
