// Package config loads computerd configuration from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/me/computerd/internal/computer"
	"github.com/me/computerd/internal/manager"
)

// Config holds all computerd configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Scripts   ScriptsConfig   `yaml:"scripts" toml:"scripts"`
}

// SchedulerConfig tunes the execution scheduler.
type SchedulerConfig struct {
	SoftTimeoutMs        int `yaml:"soft_timeout_ms" toml:"soft_timeout_ms"`
	HardTimeoutMs        int `yaml:"hard_timeout_ms" toml:"hard_timeout_ms"`
	EventQueueCapacity   int `yaml:"event_queue_capacity" toml:"event_queue_capacity"`
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers" toml:"max_concurrent_workers"`
	ShutdownGraceMs      int `yaml:"shutdown_grace_ms" toml:"shutdown_grace_ms"`
	// TickRate is host ticks per second.
	TickRate int `yaml:"tick_rate" toml:"tick_rate"`
	// MaxWorkPerTick bounds work items applied per computer per tick.
	MaxWorkPerTick int `yaml:"max_work_per_tick" toml:"max_work_per_tick"`
	MaxPending     int `yaml:"max_pending" toml:"max_pending"`
	TerminalLines  int `yaml:"terminal_lines" toml:"terminal_lines"`
	// KeepAliveTicks unloads computers not pinged for this many ticks; 0 disables.
	KeepAliveTicks int `yaml:"keepalive_ticks" toml:"keepalive_ticks"`
}

// ServerConfig controls the operator HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"` // empty disables the API
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text, json
}

// StoreConfig controls persistence.
type StoreConfig struct {
	Path          string `yaml:"path" toml:"path"` // SQLite path, ":memory:" for testing
	AutosaveTicks int    `yaml:"autosave_ticks" toml:"autosave_ticks"`
}

// ScriptsConfig controls where computer programs come from.
type ScriptsConfig struct {
	Dir        string `yaml:"dir" toml:"dir"`
	Watch      bool   `yaml:"watch" toml:"watch"`
	DebounceMs int    `yaml:"debounce_ms" toml:"debounce_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Scheduler: SchedulerConfig{
			SoftTimeoutMs:        7000,
			HardTimeoutMs:        10500,
			EventQueueCapacity:   256,
			MaxConcurrentWorkers: 128,
			ShutdownGraceMs:      2000,
			TickRate:             20,
			MaxWorkPerTick:       64,
			MaxPending:           1024,
			TerminalLines:        64,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			AutosaveTicks: 1200,
		},
		Scripts: ScriptsConfig{
			Dir:        "scripts",
			Watch:      true,
			DebounceMs: 500,
		},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml for TOML, anything else for YAML. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if FormatFor(path) == FormatTOML {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Format is a config file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor returns the format implied by path's extension.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, cfg, FormatFor(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes cfg to w.
func Write(w io.Writer, cfg Config, format Format) error {
	if format == FormatTOML {
		return toml.NewEncoder(w).Encode(cfg)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	s := c.Scheduler
	for _, f := range []struct {
		key string
		val int
	}{
		{"scheduler.soft_timeout_ms", s.SoftTimeoutMs},
		{"scheduler.hard_timeout_ms", s.HardTimeoutMs},
		{"scheduler.event_queue_capacity", s.EventQueueCapacity},
		{"scheduler.max_concurrent_workers", s.MaxConcurrentWorkers},
		{"scheduler.tick_rate", s.TickRate},
		{"scheduler.max_work_per_tick", s.MaxWorkPerTick},
	} {
		if f.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", f.key, f.val))
		}
	}
	if s.HardTimeoutMs < s.SoftTimeoutMs {
		errs = append(errs, fmt.Errorf("scheduler.hard_timeout_ms (%d) must not be below soft_timeout_ms (%d)", s.HardTimeoutMs, s.SoftTimeoutMs))
	}
	if s.ShutdownGraceMs < 0 {
		errs = append(errs, fmt.Errorf("scheduler.shutdown_grace_ms must not be negative"))
	}
	if s.KeepAliveTicks < 0 {
		errs = append(errs, fmt.Errorf("scheduler.keepalive_ticks must not be negative"))
	}
	if s.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_pending must not be negative"))
	}
	if c.Store.AutosaveTicks < 0 {
		errs = append(errs, fmt.Errorf("store.autosave_ticks must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// TickInterval returns the host tick period.
func (c Config) TickInterval() time.Duration {
	if c.Scheduler.TickRate <= 0 {
		return time.Second / 20
	}
	return time.Second / time.Duration(c.Scheduler.TickRate)
}

// WorkerOptions converts the scheduler section to worker options.
func (c Config) WorkerOptions() computer.Options {
	s := c.Scheduler
	opts := computer.DefaultOptions()
	opts.SoftTimeout = time.Duration(s.SoftTimeoutMs) * time.Millisecond
	opts.HardTimeout = time.Duration(s.HardTimeoutMs) * time.Millisecond
	opts.QueueCapacity = s.EventQueueCapacity
	opts.MaxWorkPerTick = s.MaxWorkPerTick
	opts.TickRate = s.TickRate
	opts.ShutdownGrace = time.Duration(s.ShutdownGraceMs) * time.Millisecond
	if s.TerminalLines > 0 {
		opts.TerminalLines = s.TerminalLines
	}
	return opts
}

// ManagerConfig converts the scheduler section to manager settings.
func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		Worker:               c.WorkerOptions(),
		MaxConcurrentWorkers: c.Scheduler.MaxConcurrentWorkers,
		MaxPending:           c.Scheduler.MaxPending,
		KeepAliveTicks:       c.Scheduler.KeepAliveTicks,
	}
}

// DefaultDataDir returns ~/.computerd, or $COMPUTERD_HOME when set.
func DefaultDataDir() string {
	if env := os.Getenv("COMPUTERD_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".computerd"
	}
	return filepath.Join(home, ".computerd")
}
