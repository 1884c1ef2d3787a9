package boxpool

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/boxpool/internal/proc"
)

// WorkerConfig describes how worker processes are launched.
type WorkerConfig struct {
	// Command is the worker executable; the protocol selector and command
	// set name are appended to Args on launch.
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args,omitempty"`
	Codec      string            `yaml:"codec,omitempty"`
	CommandSet string            `yaml:"command_set,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	Dir        string            `yaml:"dir,omitempty"`

	// SearchPaths are prepended to PathVar in the child environment.
	SearchPaths []string `yaml:"search_paths,omitempty"`
	PathVar     string   `yaml:"path_var,omitempty"`

	User  string `yaml:"user,omitempty"`
	Group string `yaml:"group,omitempty"`

	// UseStdio reuses stdin/stdout for the protocol instead of fds 3/4.
	UseStdio bool `yaml:"use_stdio,omitempty"`
}

// Config holds the pool sizing and dispatch policy.
type Config struct {
	// Min and Max bound the number of live worker processes.
	Min int `yaml:"min"`
	Max int `yaml:"max"`

	// MaxIdle is both the pruning interval and the idle span after which a
	// surplus Ready worker is retired.
	MaxIdle time.Duration `yaml:"max_idle"`

	// RecycleAfter retires a worker after this many calls. 0 disables
	// call-count recycling.
	RecycleAfter int `yaml:"recycle_after"`

	// CallTimeout is the default per-call timeout. 0 means no default;
	// per-call options still apply.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// TimeoutSignal is sent to a worker whose call overran its timeout or
	// deadline.
	TimeoutSignal string `yaml:"timeout_signal"`

	// ShutdownGrace is how long a gracefully retiring worker may linger
	// before it is killed.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	LogLevel string `yaml:"log_level,omitempty"`

	// APIListen enables the HTTP admin surface when set, e.g. "127.0.0.1:8710".
	APIListen string `yaml:"api_listen,omitempty"`

	Worker WorkerConfig `yaml:"worker"`
}

// DefaultConfig returns the stock sizing policy.
func DefaultConfig() Config {
	return Config{
		Min:           5,
		Max:           20,
		MaxIdle:       20 * time.Second,
		RecycleAfter:  5000,
		TimeoutSignal: "KILL",
		ShutdownGrace: 5 * time.Second,
	}
}

// LoadConfig reads and validates a yaml config file. Unset sizing fields
// fall back to DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Min == 0 && cfg.Max == 0 {
		cfg.Min, cfg.Max = def.Min, def.Max
	}
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = def.MaxIdle
	}
	if cfg.TimeoutSignal == "" {
		cfg.TimeoutSignal = def.TimeoutSignal
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	return cfg
}

// Validate checks sizing bounds and launch settings.
func (c *Config) Validate() error {
	if c.Min < 0 {
		return fmt.Errorf("min must be >= 0, got %d", c.Min)
	}
	if c.Max <= 0 {
		return fmt.Errorf("max must be > 0, got %d", c.Max)
	}
	if c.Min > c.Max {
		return fmt.Errorf("min (%d) must not exceed max (%d)", c.Min, c.Max)
	}
	if c.RecycleAfter < 0 {
		return fmt.Errorf("recycle_after must be >= 0, got %d", c.RecycleAfter)
	}
	if c.MaxIdle <= 0 {
		return fmt.Errorf("max_idle must be > 0, got %v", c.MaxIdle)
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command is required")
	}
	if _, err := proc.SignalByName(c.TimeoutSignal); err != nil {
		return fmt.Errorf("timeout_signal: %w", err)
	}
	switch c.Worker.Codec {
	case "", "box", "msgpack":
	default:
		return fmt.Errorf("worker.codec must be box or msgpack, got %q", c.Worker.Codec)
	}
	return nil
}

func (c *Config) launchSpec() proc.Spec {
	return proc.Spec{
		Command:     c.Worker.Command,
		Args:        c.Worker.Args,
		Codec:       c.Worker.Codec,
		CommandSet:  c.Worker.CommandSet,
		Env:         c.Worker.Env,
		Dir:         c.Worker.Dir,
		SearchPaths: c.Worker.SearchPaths,
		PathVar:     c.Worker.PathVar,
		User:        c.Worker.User,
		Group:       c.Worker.Group,
		UseStdio:    c.Worker.UseStdio,
	}
}
