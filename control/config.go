// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed configuration with defaults and a reload-propagating store.

package control

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the tunables of a netio process.
type Config struct {
	ListenAddr        string        `mapstructure:"listen"`
	UnixPath          string        `mapstructure:"unix-path"`
	MaxConnections    uint          `mapstructure:"max-connections"`
	RateLimit         uint          `mapstructure:"rate-limit"`
	RateResetInterval time.Duration `mapstructure:"rate-reset-interval"`
	LowLatency        bool          `mapstructure:"low-latency"`
	ReuseAddr         bool          `mapstructure:"reuse-addr"`
	LineMax           int           `mapstructure:"line-max"`
	ReadChunk         int           `mapstructure:"read-chunk"`
	PollTimeout       time.Duration `mapstructure:"poll-timeout"`
	StatusInterval    time.Duration `mapstructure:"status-interval"`
	LogLevel          string        `mapstructure:"log-level"`
	LogDevelopment    bool          `mapstructure:"log-development"`
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:9861",
		MaxConnections:    0,
		RateLimit:         0,
		RateResetInterval: time.Second,
		ReuseAddr:         true,
		LineMax:           4096,
		ReadChunk:         1024,
		PollTimeout:       100 * time.Millisecond,
		StatusInterval:    10 * time.Second,
		LogLevel:          "info",
	}
}

// Validate rejects values the transports cannot honor.
func (c *Config) Validate() error {
	if c.RateLimit > 0 && c.RateResetInterval <= 0 {
		return fmt.Errorf("control: rate-reset-interval must be positive when rate-limit is set")
	}
	if c.LineMax <= 0 {
		return fmt.Errorf("control: line-max must be positive, got %d", c.LineMax)
	}
	if c.ReadChunk <= 0 {
		return fmt.Errorf("control: read-chunk must be positive, got %d", c.ReadChunk)
	}
	return nil
}

// ConfigStore holds the live config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(old, cur Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg *Config) *ConfigStore {
	return &ConfigStore{config: *cfg}
}

// Snapshot returns a copy of the current config.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Update validates and installs cfg, then runs listeners synchronously
// outside the lock.
func (cs *ConfigStore) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	old := cs.config
	cs.config = *cfg
	ls := append([]func(old, cur Config){}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range ls {
		fn(old, *cfg)
	}
	return nil
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(old, cur Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
