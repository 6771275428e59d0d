// Package config loads credvault settings from an optional YAML file and CREDVAULT_*
// environment variables, in that order, over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/illarion/credvault/internal/crypto"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "credvault.yaml"

type Config struct {
	VaultPath     string        `yaml:"vault_path"`
	DefaultUser   string        `yaml:"default_user"`
	KDF           KDFConfig     `yaml:"kdf"`
	DeriveTimeout time.Duration `yaml:"derive_timeout"`
	Login         LoginConfig   `yaml:"login"`
	Log           LogConfig     `yaml:"log"`
	MetricsFile   string        `yaml:"metrics_file"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `yaml:"-"`
}

// KDFConfig holds the cost used for newly registered accounts and re-keys.
// Existing accounts keep the cost stored with them.
type KDFConfig struct {
	Iterations   uint32 `yaml:"iterations"`
	MemoryKiB    uint32 `yaml:"memory_kib"`
	Parallelism  uint8  `yaml:"parallelism"`
	MaxMemoryKiB uint32 `yaml:"max_memory_kib"`
}

// LoginConfig throttles failed password attempts per account.
type LoginConfig struct {
	AttemptsPerMinute float64 `yaml:"attempts_per_minute"`
	Burst             int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	cost := crypto.DefaultCost()
	return Config{
		VaultPath: ".credvault",
		KDF: KDFConfig{
			Iterations:   cost.Iterations,
			MemoryKiB:    cost.MemoryKiB,
			Parallelism:  cost.Parallelism,
			MaxMemoryKiB: crypto.DefaultMaxMemory,
		},
		DeriveTimeout: 30 * time.Second,
		Login: LoginConfig{
			AttemptsPerMinute: 6,
			Burst:             3,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Cost returns the KDF cost for new key material.
func (c Config) Cost() crypto.Cost {
	return crypto.Cost{
		Iterations:  c.KDF.Iterations,
		MemoryKiB:   c.KDF.MemoryKiB,
		Parallelism: c.KDF.Parallelism,
	}
}

// Load reads configPath, or $CREDVAULT_CONFIG, or ./credvault.yaml when present, and
// applies environment overrides. A file named explicitly must exist.
func Load(configPath string) (Config, error) {
	cfg := Default()

	explicit := true
	path := configPath
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CREDVAULT_CONFIG"))
	}
	if path == "" {
		path = DefaultFileName
		explicit = false
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.Source = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CREDVAULT_* variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("CREDVAULT_VAULT")); v != "" {
		cfg.VaultPath = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDVAULT_USER")); v != "" {
		cfg.DefaultUser = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDVAULT_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDVAULT_METRICS_FILE")); v != "" {
		cfg.MetricsFile = v
	}
	if v := strings.TrimSpace(os.Getenv("CREDVAULT_DERIVE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CREDVAULT_DERIVE_TIMEOUT: %w", err)
		}
		cfg.DeriveTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("CREDVAULT_KDF_MEMORY_KIB")); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid CREDVAULT_KDF_MEMORY_KIB: %w", err)
		}
		cfg.KDF.MemoryKiB = uint32(n)
	}
	if v := strings.TrimSpace(os.Getenv("CREDVAULT_KDF_ITERATIONS")); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid CREDVAULT_KDF_ITERATIONS: %w", err)
		}
		cfg.KDF.Iterations = uint32(n)
	}
	return nil
}

// Validate rejects settings the vault cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.VaultPath) == "" {
		return errors.New("vault_path cannot be empty")
	}
	if err := c.Cost().Validate(); err != nil {
		return fmt.Errorf("invalid kdf settings: %w", err)
	}
	if c.KDF.MaxMemoryKiB != 0 && c.KDF.MemoryKiB > c.KDF.MaxMemoryKiB {
		return fmt.Errorf("kdf.memory_kib %d exceeds kdf.max_memory_kib %d", c.KDF.MemoryKiB, c.KDF.MaxMemoryKiB)
	}
	if c.DeriveTimeout < 0 {
		return errors.New("derive_timeout cannot be negative")
	}
	if c.Login.AttemptsPerMinute <= 0 || c.Login.Burst <= 0 {
		return errors.New("login.attempts_per_minute and login.burst must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
