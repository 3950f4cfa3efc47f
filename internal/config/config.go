package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Recovery policies for compromised hosts
const (
	RecoveryNever = "never"
	RecoveryAuto  = "auto"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds all server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Game      GameConfig      `yaml:"game"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ReadLimit  int64  `yaml:"read_limit"`  // max inbound message size, bytes
	SendBuffer int    `yaml:"send_buffer"` // queued outbound messages per connection
}

// GameConfig holds the simulation constants
type GameConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"` // one guess per tick
	Cooldown     time.Duration `yaml:"cooldown"`      // enforced after stop_attack
	RuleCapacity int           `yaml:"rule_capacity"` // firewall rules kept per host
	PasswordMin  int           `yaml:"password_min"`
	PasswordMax  int           `yaml:"password_max"`
	UsernameMax  int           `yaml:"username_max"`
	IPPrefix     string        `yaml:"ip_prefix"` // first two octets of simulated addresses
}

// RecoveryConfig decides what happens to compromised hosts
type RecoveryConfig struct {
	Policy string        `yaml:"policy"` // "never" or "auto"
	Delay  time.Duration `yaml:"delay"`
}

// RateLimitConfig holds per-connection inbound message limits
type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// RedisConfig holds Redis connection settings for the address blacklist
type RedisConfig struct {
	Address         string `yaml:"address"` // empty disables the blacklist
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	BlacklistPrefix string `yaml:"blacklist_prefix"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{
		Game: GameConfig{
			Cooldown:    5 * time.Second,
			PasswordMax: 99,
		},
		Recovery: RecoveryConfig{Delay: time.Minute},
		Metrics:  MetricsConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file.
// A missing file is not an error; defaults are used instead.
// Keys absent from the file keep their default; an explicit zero cooldown
// or recovery delay is honored.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills zero values that have no meaning of their own
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = 4096
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 256
	}
	if c.Game.TickInterval == 0 {
		c.Game.TickInterval = time.Second
	}
	if c.Game.RuleCapacity == 0 {
		c.Game.RuleCapacity = 3
	}
	if c.Game.UsernameMax == 0 {
		c.Game.UsernameMax = 15
	}
	if c.Game.IPPrefix == "" {
		c.Game.IPPrefix = "10.12"
	}
	if c.Recovery.Policy == "" {
		c.Recovery.Policy = RecoveryNever
	}
	if c.RateLimit.MessagesPerSecond == 0 {
		c.RateLimit.MessagesPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.Redis.BlacklistPrefix == "" {
		c.Redis.BlacklistPrefix = "hacksim:blacklist:"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the values that defaults cannot repair
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	case c.Game.TickInterval < 0:
		return fmt.Errorf("%w: game.tick_interval must be positive", ErrInvalid)
	case c.Game.Cooldown < 0:
		return fmt.Errorf("%w: game.cooldown must not be negative", ErrInvalid)
	case c.Game.RuleCapacity < 1:
		return fmt.Errorf("%w: game.rule_capacity must be at least 1", ErrInvalid)
	case c.Game.PasswordMin > c.Game.PasswordMax:
		return fmt.Errorf("%w: game.password_min %d above password_max %d",
			ErrInvalid, c.Game.PasswordMin, c.Game.PasswordMax)
	case c.Game.UsernameMax < 1:
		return fmt.Errorf("%w: game.username_max must be at least 1", ErrInvalid)
	case c.Recovery.Policy != RecoveryNever && c.Recovery.Policy != RecoveryAuto:
		return fmt.Errorf("%w: recovery.policy %q (must be %q or %q)",
			ErrInvalid, c.Recovery.Policy, RecoveryNever, RecoveryAuto)
	case c.Recovery.Delay < 0:
		return fmt.Errorf("%w: recovery.delay must not be negative", ErrInvalid)
	case c.RateLimit.MessagesPerSecond < 0 || c.RateLimit.Burst < 0:
		return fmt.Errorf("%w: rate_limit values must not be negative", ErrInvalid)
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
