package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/goeslr/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.HTTP.Addr != ":8275" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":8275")
	}

	if cfg.Metrics.Addr != ":9275" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9275")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.ESLR.KamInterval != 5*time.Second {
		t.Errorf("ESLR.KamInterval = %v, want %v", cfg.ESLR.KamInterval, 5*time.Second)
	}

	if cfg.ESLR.NeighborTimeoutDelay != 30*time.Second {
		t.Errorf("ESLR.NeighborTimeoutDelay = %v, want %v", cfg.ESLR.NeighborTimeoutDelay, 30*time.Second)
	}

	if cfg.ESLR.SettlingTime != 30*time.Second {
		t.Errorf("ESLR.SettlingTime = %v, want %v", cfg.ESLR.SettlingTime, 30*time.Second)
	}

	if cfg.ESLR.K1 != 1 || cfg.ESLR.K2 != 1 || cfg.ESLR.K3 != 1 {
		t.Errorf("ESLR.K1/K2/K3 = %d/%d/%d, want 1/1/1", cfg.ESLR.K1, cfg.ESLR.K2, cfg.ESLR.K3)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
http:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
eslr:
  kam_interval: "2s"
  neighbor_timeout_delay: "10s"
  settling_time: "15s"
  k1: 2
  k2: 3
  k3: 4
  printing_method: "main"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.HTTP.Addr != ":60000" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.ESLR.KamInterval != 2*time.Second {
		t.Errorf("ESLR.KamInterval = %v, want %v", cfg.ESLR.KamInterval, 2*time.Second)
	}

	if cfg.ESLR.NeighborTimeoutDelay != 10*time.Second {
		t.Errorf("ESLR.NeighborTimeoutDelay = %v, want %v", cfg.ESLR.NeighborTimeoutDelay, 10*time.Second)
	}

	if cfg.ESLR.SettlingTime != 15*time.Second {
		t.Errorf("ESLR.SettlingTime = %v, want %v", cfg.ESLR.SettlingTime, 15*time.Second)
	}

	if cfg.ESLR.K1 != 2 || cfg.ESLR.K2 != 3 || cfg.ESLR.K3 != 4 {
		t.Errorf("ESLR.K1/K2/K3 = %d/%d/%d, want 2/3/4", cfg.ESLR.K1, cfg.ESLR.K2, cfg.ESLR.K3)
	}

	if cfg.ESLR.PrintingMethod != "main" {
		t.Errorf("ESLR.PrintingMethod = %q, want %q", cfg.ESLR.PrintingMethod, "main")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override http.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
http:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.HTTP.Addr != ":55555" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9275" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9275")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.ESLR.KamInterval != 5*time.Second {
		t.Errorf("ESLR.KamInterval = %v, want default %v", cfg.ESLR.KamInterval, 5*time.Second)
	}

	if cfg.ESLR.PeriodicUpdateDelay != 60*time.Second {
		t.Errorf("ESLR.PeriodicUpdateDelay = %v, want default %v", cfg.ESLR.PeriodicUpdateDelay, 60*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty http addr",
			modify: func(cfg *config.Config) {
				cfg.HTTP.Addr = ""
			},
			wantErr: config.ErrEmptyHTTPAddr,
		},
		{
			name: "zero kam interval",
			modify: func(cfg *config.Config) {
				cfg.ESLR.KamInterval = 0
			},
			wantErr: config.ErrInvalidKamInterval,
		},
		{
			name: "negative kam interval",
			modify: func(cfg *config.Config) {
				cfg.ESLR.KamInterval = -1 * time.Second
			},
			wantErr: config.ErrInvalidKamInterval,
		},
		{
			name: "neighbor timeout not greater than kam interval",
			modify: func(cfg *config.Config) {
				cfg.ESLR.KamInterval = 30 * time.Second
				cfg.ESLR.NeighborTimeoutDelay = 30 * time.Second
			},
			wantErr: config.ErrInvalidNeighborTimeout,
		},
		{
			name: "triggered cooldown out of order",
			modify: func(cfg *config.Config) {
				cfg.ESLR.MinTriggeredCooldown = 5 * time.Second
				cfg.ESLR.MaxTriggeredCooldown = 1 * time.Second
			},
			wantErr: config.ErrInvalidTriggeredCooldown,
		},
		{
			name: "unrecognized printing method",
			modify: func(cfg *config.Config) {
				cfg.ESLR.PrintingMethod = "bogus"
			},
			wantErr: config.ErrInvalidPrintingMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestWireAuthType(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	if got := cfg.ESLR.WireAuthType(); got.String() != "Plaintext" {
		t.Errorf("WireAuthType() = %v, want Plaintext", got)
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
http:
  addr: ":50051"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("ESLRD_HTTP_ADDR", ":60000")
	t.Setenv("ESLRD_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.HTTP.Addr != ":60000" {
		t.Errorf("HTTP.Addr = %q, want %q (from env)", cfg.HTTP.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
http:
  addr: ":50051"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("ESLRD_METRICS_ADDR", ":9200")
	t.Setenv("ESLRD_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "eslrd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
