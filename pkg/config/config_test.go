package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnvVars(t *testing.T) {
	t.Helper()
	envVars := []string{
		"HIRELOOP_DATA_DIR",
		"HIRELOOP_LATENCY_MIN",
		"HIRELOOP_LATENCY_MAX",
		"HIRELOOP_FAILURE_PROBABILITY",
		"HIRELOOP_RATE_LIMIT",
		"HIRELOOP_STALE_TIME",
		"HIRELOOP_SWEEP_INTERVAL",
		"HIRELOOP_SEED_JOBS",
		"HIRELOOP_SEED_CANDIDATES",
		"HIRELOOP_SEED",
		"HIRELOOP_LOG_LEVEL",
		"HIRELOOP_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestDefaults(t *testing.T) {
	clearEnvVars(t)

	cfg := DefaultConfig()

	if cfg.Store.DataDir != "" {
		t.Errorf("expected empty data dir (in-memory), got %q", cfg.Store.DataDir)
	}

	if cfg.Transport.LatencyMin != 200*time.Millisecond {
		t.Errorf("expected latency min 200ms, got %v", cfg.Transport.LatencyMin)
	}
	if cfg.Transport.LatencyMax != 1200*time.Millisecond {
		t.Errorf("expected latency max 1200ms, got %v", cfg.Transport.LatencyMax)
	}
	if cfg.Transport.FailureProbability != 0.075 {
		t.Errorf("expected failure probability 0.075, got %f", cfg.Transport.FailureProbability)
	}
	if cfg.Transport.RateLimit != 0 {
		t.Errorf("expected rate limit 0, got %f", cfg.Transport.RateLimit)
	}

	if cfg.Cache.StaleTime != 30*time.Second {
		t.Errorf("expected stale time 30s, got %v", cfg.Cache.StaleTime)
	}
	if cfg.Cache.SweepInterval != 0 {
		t.Errorf("expected sweep interval 0, got %v", cfg.Cache.SweepInterval)
	}

	if cfg.Seed.Jobs != 25 {
		t.Errorf("expected 25 seed jobs, got %d", cfg.Seed.Jobs)
	}
	if cfg.Seed.Candidates != 1000 {
		t.Errorf("expected 1000 seed candidates, got %d", cfg.Seed.Candidates)
	}
	if cfg.Seed.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Seed.Seed)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected log format 'text', got %q", cfg.Logging.Format)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate, got %v", err)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("HIRELOOP_DATA_DIR", "/tmp/hireloop-data")
	t.Setenv("HIRELOOP_LATENCY_MIN", "50ms")
	t.Setenv("HIRELOOP_LATENCY_MAX", "2s")
	t.Setenv("HIRELOOP_FAILURE_PROBABILITY", "0.25")
	t.Setenv("HIRELOOP_RATE_LIMIT", "100")
	t.Setenv("HIRELOOP_STALE_TIME", "5m")
	t.Setenv("HIRELOOP_SWEEP_INTERVAL", "10s")
	t.Setenv("HIRELOOP_SEED_JOBS", "5")
	t.Setenv("HIRELOOP_SEED_CANDIDATES", "50")
	t.Setenv("HIRELOOP_SEED", "7")
	t.Setenv("HIRELOOP_LOG_LEVEL", "DEBUG")
	t.Setenv("HIRELOOP_LOG_FORMAT", "json")

	cfg := LoadFromEnv()

	if cfg.Store.DataDir != "/tmp/hireloop-data" {
		t.Errorf("expected data dir '/tmp/hireloop-data', got %q", cfg.Store.DataDir)
	}
	if cfg.Transport.LatencyMin != 50*time.Millisecond {
		t.Errorf("expected latency min 50ms, got %v", cfg.Transport.LatencyMin)
	}
	if cfg.Transport.LatencyMax != 2*time.Second {
		t.Errorf("expected latency max 2s, got %v", cfg.Transport.LatencyMax)
	}
	if cfg.Transport.FailureProbability != 0.25 {
		t.Errorf("expected failure probability 0.25, got %f", cfg.Transport.FailureProbability)
	}
	if cfg.Transport.RateLimit != 100 {
		t.Errorf("expected rate limit 100, got %f", cfg.Transport.RateLimit)
	}
	if cfg.Cache.StaleTime != 5*time.Minute {
		t.Errorf("expected stale time 5m, got %v", cfg.Cache.StaleTime)
	}
	if cfg.Cache.SweepInterval != 10*time.Second {
		t.Errorf("expected sweep interval 10s, got %v", cfg.Cache.SweepInterval)
	}
	if cfg.Seed.Jobs != 5 {
		t.Errorf("expected 5 seed jobs, got %d", cfg.Seed.Jobs)
	}
	if cfg.Seed.Candidates != 50 {
		t.Errorf("expected 50 seed candidates, got %d", cfg.Seed.Candidates)
	}
	if cfg.Seed.Seed != 7 {
		t.Errorf("expected seed 7, got %d", cfg.Seed.Seed)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected log level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format 'json', got %q", cfg.Logging.Format)
	}
}

func TestEnvBareNumberDurationIsSeconds(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("HIRELOOP_STALE_TIME", "45")

	cfg := LoadFromEnv()
	if cfg.Cache.StaleTime != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Cache.StaleTime)
	}
}

func TestEnvInvalidValuesKeepDefaults(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("HIRELOOP_SEED_JOBS", "lots")
	t.Setenv("HIRELOOP_FAILURE_PROBABILITY", "maybe")
	t.Setenv("HIRELOOP_LATENCY_MIN", "soon")

	cfg := LoadFromEnv()
	if cfg.Seed.Jobs != 25 {
		t.Errorf("expected default 25 seed jobs, got %d", cfg.Seed.Jobs)
	}
	if cfg.Transport.FailureProbability != 0.075 {
		t.Errorf("expected default probability 0.075, got %f", cfg.Transport.FailureProbability)
	}
	if cfg.Transport.LatencyMin != 200*time.Millisecond {
		t.Errorf("expected default latency min 200ms, got %v", cfg.Transport.LatencyMin)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), "hireloop.yaml")
	yamlContent := `
store:
  data_dir: /var/lib/hireloop
transport:
  latency_min: 10ms
  latency_max: 50ms
  failure_probability: 0
cache:
  stale_time: 90s
seed:
  jobs: 3
  candidates: 12
  seed: 99
logging:
  level: WARN
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Store.DataDir != "/var/lib/hireloop" {
		t.Errorf("expected data dir from file, got %q", cfg.Store.DataDir)
	}
	if cfg.Transport.LatencyMin != 10*time.Millisecond {
		t.Errorf("expected latency min 10ms, got %v", cfg.Transport.LatencyMin)
	}
	if cfg.Transport.LatencyMax != 50*time.Millisecond {
		t.Errorf("expected latency max 50ms, got %v", cfg.Transport.LatencyMax)
	}
	if cfg.Transport.FailureProbability != 0 {
		t.Errorf("explicit zero probability must survive the overlay, got %f", cfg.Transport.FailureProbability)
	}
	if cfg.Cache.StaleTime != 90*time.Second {
		t.Errorf("expected stale time 90s, got %v", cfg.Cache.StaleTime)
	}
	if cfg.Seed.Jobs != 3 || cfg.Seed.Candidates != 12 || cfg.Seed.Seed != 99 {
		t.Errorf("unexpected seed section: %+v", cfg.Seed)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("expected log level 'WARN', got %q", cfg.Logging.Level)
	}
	// Unset file fields keep their defaults.
	if cfg.Cache.SweepInterval != 0 {
		t.Errorf("expected default sweep interval, got %v", cfg.Cache.SweepInterval)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected default log format, got %q", cfg.Logging.Format)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), "hireloop.yaml")
	yamlContent := `
cache:
  stale_time: 90s
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HIRELOOP_STALE_TIME", "2m")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Cache.StaleTime != 2*time.Minute {
		t.Errorf("env must override file, got %v", cfg.Cache.StaleTime)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error, got %v", err)
	}
	if cfg.Cache.StaleTime != 30*time.Second {
		t.Errorf("expected defaults, got stale time %v", cfg.Cache.StaleTime)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	clearEnvVars(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unparseable yaml",
			content: "store: [broken",
			wantErr: "failed to parse config file",
		},
		{
			name:    "bad latency duration",
			content: "transport:\n  latency_min: fast\n",
			wantErr: "invalid transport.latency_min",
		},
		{
			name:    "bad stale time",
			content: "cache:\n  stale_time: soonish\n",
			wantErr: "invalid cache.stale_time",
		},
		{
			name:    "bad sweep interval",
			content: "cache:\n  sweep_interval: never\n",
			wantErr: "invalid cache.sweep_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hireloop.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := LoadFromFile(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative latency min", func(c *Config) { c.Transport.LatencyMin = -time.Second }},
		{"max below min", func(c *Config) { c.Transport.LatencyMax = 100 * time.Millisecond }},
		{"probability above one", func(c *Config) { c.Transport.FailureProbability = 1.5 }},
		{"negative probability", func(c *Config) { c.Transport.FailureProbability = -0.1 }},
		{"negative rate limit", func(c *Config) { c.Transport.RateLimit = -1 }},
		{"zero stale time", func(c *Config) { c.Cache.StaleTime = 0 }},
		{"negative sweep interval", func(c *Config) { c.Cache.SweepInterval = -time.Second }},
		{"negative seed jobs", func(c *Config) { c.Seed.Jobs = -1 }},
		{"negative seed candidates", func(c *Config) { c.Seed.Candidates = -1 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		got := LoggingConfig{Level: tt.level}.SlogLevel()
		if got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	if !strings.Contains(s, "(in-memory)") {
		t.Errorf("expected in-memory marker, got %q", s)
	}
	cfg.Store.DataDir = "/data"
	if !strings.Contains(cfg.String(), "/data") {
		t.Errorf("expected data dir in %q", cfg.String())
	}
}
