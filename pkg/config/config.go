// Package config handles hireloop configuration via YAML files and
// environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --seed, etc.)
//  2. Environment variables (HIRELOOP_*)
//  3. Config file (hireloop.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables (all use the HIRELOOP_ prefix):
//
// Store:
//   - HIRELOOP_DATA_DIR="./data" (empty = in-memory store)
//
// Transport:
//   - HIRELOOP_LATENCY_MIN=200ms
//   - HIRELOOP_LATENCY_MAX=1200ms
//   - HIRELOOP_FAILURE_PROBABILITY=0.075
//   - HIRELOOP_RATE_LIMIT=0 (requests/second; 0 = unlimited)
//
// Cache:
//   - HIRELOOP_STALE_TIME=30s
//   - HIRELOOP_SWEEP_INTERVAL=0s (0 = sweep disabled, reads still revalidate)
//
// Seed:
//   - HIRELOOP_SEED_JOBS=25
//   - HIRELOOP_SEED_CANDIDATES=1000
//   - HIRELOOP_SEED=42
//
// Logging:
//   - HIRELOOP_LOG_LEVEL="INFO"
//   - HIRELOOP_LOG_FORMAT="text"
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hireloop configuration.
//
// Configuration is organized into logical sections:
//   - Store: persistence settings
//   - Transport: simulated-network behavior
//   - Cache: staleness and revalidation tuning
//   - Seed: deterministic dataset generation
//   - Logging: log level and format
//
// Use DefaultConfig for the built-in defaults, LoadFromEnv to overlay
// HIRELOOP_* variables, or LoadFromFile for the full file+env precedence.
type Config struct {
	// Store settings
	Store StoreConfig

	// Transport settings for the simulated network
	Transport TransportConfig

	// Cache settings
	Cache CacheConfig

	// Seed settings for deterministic dataset generation
	Seed SeedConfig

	// Logging
	Logging LoggingConfig
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// DataDir is the directory for durable storage. Empty selects the
	// in-memory store.
	// Env: HIRELOOP_DATA_DIR
	DataDir string
}

// TransportConfig holds the simulated-network knobs.
type TransportConfig struct {
	// LatencyMin is the lower bound of the uniform latency window.
	// Env: HIRELOOP_LATENCY_MIN
	LatencyMin time.Duration
	// LatencyMax is the upper bound of the uniform latency window.
	// Env: HIRELOOP_LATENCY_MAX
	LatencyMax time.Duration
	// FailureProbability is the chance a write fails before reaching the
	// store. 0 disables injected failures entirely.
	// Env: HIRELOOP_FAILURE_PROBABILITY
	FailureProbability float64
	// RateLimit caps simulated server throughput in requests/second.
	// 0 means unlimited.
	// Env: HIRELOOP_RATE_LIMIT
	RateLimit float64
}

// CacheConfig holds staleness tuning.
type CacheConfig struct {
	// StaleTime is how long a fresh entry serves reads before a read
	// triggers background revalidation.
	// Env: HIRELOOP_STALE_TIME
	StaleTime time.Duration
	// SweepInterval, when positive, revalidates stale entries on a timer
	// even without reads. 0 disables the sweep.
	// Env: HIRELOOP_SWEEP_INTERVAL
	SweepInterval time.Duration
}

// SeedConfig holds deterministic dataset generation settings.
type SeedConfig struct {
	// Jobs is the number of seeded jobs.
	// Env: HIRELOOP_SEED_JOBS
	Jobs int
	// Candidates is the number of seeded candidates.
	// Env: HIRELOOP_SEED_CANDIDATES
	Candidates int
	// Seed is the rand source; the same seed reproduces the dataset.
	// Env: HIRELOOP_SEED
	Seed int64
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	// Env: HIRELOOP_LOG_LEVEL
	Level string
	// Format is "text" or "json".
	// Env: HIRELOOP_LOG_FORMAT
	Format string
}

// SlogLevel maps the configured level to a slog.Level. Unknown levels
// fall back to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToUpper(l.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir: "",
		},
		Transport: TransportConfig{
			LatencyMin:         200 * time.Millisecond,
			LatencyMax:         1200 * time.Millisecond,
			FailureProbability: 0.075,
			RateLimit:          0,
		},
		Cache: CacheConfig{
			StaleTime:     30 * time.Second,
			SweepInterval: 0,
		},
		Seed: SeedConfig{
			Jobs:       25,
			Candidates: 1000,
			Seed:       42,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// LoadFromEnv returns the defaults with HIRELOOP_* variables applied.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	applyEnvVars(cfg)
	return cfg
}

func applyEnvVars(cfg *Config) {
	cfg.Store.DataDir = getEnv("HIRELOOP_DATA_DIR", cfg.Store.DataDir)

	cfg.Transport.LatencyMin = getEnvDuration("HIRELOOP_LATENCY_MIN", cfg.Transport.LatencyMin)
	cfg.Transport.LatencyMax = getEnvDuration("HIRELOOP_LATENCY_MAX", cfg.Transport.LatencyMax)
	cfg.Transport.FailureProbability = getEnvFloat("HIRELOOP_FAILURE_PROBABILITY", cfg.Transport.FailureProbability)
	cfg.Transport.RateLimit = getEnvFloat("HIRELOOP_RATE_LIMIT", cfg.Transport.RateLimit)

	cfg.Cache.StaleTime = getEnvDuration("HIRELOOP_STALE_TIME", cfg.Cache.StaleTime)
	cfg.Cache.SweepInterval = getEnvDuration("HIRELOOP_SWEEP_INTERVAL", cfg.Cache.SweepInterval)

	cfg.Seed.Jobs = getEnvInt("HIRELOOP_SEED_JOBS", cfg.Seed.Jobs)
	cfg.Seed.Candidates = getEnvInt("HIRELOOP_SEED_CANDIDATES", cfg.Seed.Candidates)
	cfg.Seed.Seed = getEnvInt64("HIRELOOP_SEED", cfg.Seed.Seed)

	cfg.Logging.Level = getEnv("HIRELOOP_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("HIRELOOP_LOG_FORMAT", cfg.Logging.Format)
}

// YAMLConfig represents the YAML configuration file structure. All fields
// mirror the environment variable configuration options; durations are
// written as Go duration strings ("200ms", "30s").
type YAMLConfig struct {
	Store struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"store"`

	Transport struct {
		LatencyMin         string   `yaml:"latency_min"`
		LatencyMax         string   `yaml:"latency_max"`
		FailureProbability *float64 `yaml:"failure_probability"`
		RateLimit          *float64 `yaml:"rate_limit"`
	} `yaml:"transport"`

	Cache struct {
		StaleTime     string `yaml:"stale_time"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"cache"`

	Seed struct {
		Jobs       *int   `yaml:"jobs"`
		Candidates *int   `yaml:"candidates"`
		Seed       *int64 `yaml:"seed"`
	} `yaml:"seed"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadFromFile loads configuration with full precedence: built-in
// defaults, then the YAML file at configPath (if it exists), then
// HIRELOOP_* environment variables. A missing file is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if configPath == "" || os.IsNotExist(err) {
			applyEnvVars(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.Store.DataDir != "" {
		cfg.Store.DataDir = yamlCfg.Store.DataDir
	}

	if yamlCfg.Transport.LatencyMin != "" {
		d, err := time.ParseDuration(yamlCfg.Transport.LatencyMin)
		if err != nil {
			return nil, fmt.Errorf("invalid transport.latency_min: %w", err)
		}
		cfg.Transport.LatencyMin = d
	}
	if yamlCfg.Transport.LatencyMax != "" {
		d, err := time.ParseDuration(yamlCfg.Transport.LatencyMax)
		if err != nil {
			return nil, fmt.Errorf("invalid transport.latency_max: %w", err)
		}
		cfg.Transport.LatencyMax = d
	}
	if yamlCfg.Transport.FailureProbability != nil {
		cfg.Transport.FailureProbability = *yamlCfg.Transport.FailureProbability
	}
	if yamlCfg.Transport.RateLimit != nil {
		cfg.Transport.RateLimit = *yamlCfg.Transport.RateLimit
	}

	if yamlCfg.Cache.StaleTime != "" {
		d, err := time.ParseDuration(yamlCfg.Cache.StaleTime)
		if err != nil {
			return nil, fmt.Errorf("invalid cache.stale_time: %w", err)
		}
		cfg.Cache.StaleTime = d
	}
	if yamlCfg.Cache.SweepInterval != "" {
		d, err := time.ParseDuration(yamlCfg.Cache.SweepInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid cache.sweep_interval: %w", err)
		}
		cfg.Cache.SweepInterval = d
	}

	if yamlCfg.Seed.Jobs != nil {
		cfg.Seed.Jobs = *yamlCfg.Seed.Jobs
	}
	if yamlCfg.Seed.Candidates != nil {
		cfg.Seed.Candidates = *yamlCfg.Seed.Candidates
	}
	if yamlCfg.Seed.Seed != nil {
		cfg.Seed.Seed = *yamlCfg.Seed.Seed
	}

	if yamlCfg.Logging.Level != "" {
		cfg.Logging.Level = yamlCfg.Logging.Level
	}
	if yamlCfg.Logging.Format != "" {
		cfg.Logging.Format = yamlCfg.Logging.Format
	}

	applyEnvVars(cfg)
	return cfg, nil
}

// FindConfigFile searches the conventional locations for a config file
// and returns the first that exists, or "" when none does.
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".hireloop", "config.yaml"))
	}

	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "hireloop.yaml"))
	}

	candidates = append(candidates,
		"hireloop.yaml",
		"config.yaml",
	)

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "hireloop", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Transport.LatencyMin < 0 {
		return fmt.Errorf("transport latency min must not be negative: %v", c.Transport.LatencyMin)
	}
	if c.Transport.LatencyMax < c.Transport.LatencyMin {
		return fmt.Errorf("transport latency max %v below min %v", c.Transport.LatencyMax, c.Transport.LatencyMin)
	}
	if c.Transport.FailureProbability < 0 || c.Transport.FailureProbability > 1 {
		return fmt.Errorf("failure probability must be in [0, 1]: %v", c.Transport.FailureProbability)
	}
	if c.Transport.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative: %v", c.Transport.RateLimit)
	}
	if c.Cache.StaleTime <= 0 {
		return fmt.Errorf("stale time must be positive: %v", c.Cache.StaleTime)
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("sweep interval must not be negative: %v", c.Cache.SweepInterval)
	}
	if c.Seed.Jobs < 0 {
		return fmt.Errorf("seed jobs must not be negative: %d", c.Seed.Jobs)
	}
	if c.Seed.Candidates < 0 {
		return fmt.Errorf("seed candidates must not be negative: %d", c.Seed.Candidates)
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a representation of the Config suitable for logging.
func (c *Config) String() string {
	dataDir := c.Store.DataDir
	if dataDir == "" {
		dataDir = "(in-memory)"
	}
	return fmt.Sprintf(
		"Config{DataDir: %s, Latency: %v..%v, FailureProbability: %.3f, StaleTime: %v}",
		dataDir,
		c.Transport.LatencyMin, c.Transport.LatencyMax,
		c.Transport.FailureProbability,
		c.Cache.StaleTime,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
