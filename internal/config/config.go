// Package config manages the eslrd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables, the same layering
// pattern common in Go daemons using koanf.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/goeslr/internal/wire"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete eslrd configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	ESLR    ESLRConfig    `koanf:"eslr"`
}

// HTTPConfig holds the control/debug API listener configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address for the chi control API and health
	// checks (e.g., ":8275").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ESLRConfig holds every protocol-level timer, weight, and policy option.
type ESLRConfig struct {
	// KamInterval is the keep-alive send interval.
	KamInterval time.Duration `koanf:"kam_interval"`

	// NeighborTimeoutDelay is how long a neighbor may go without a
	// keep-alive before it is expired.
	NeighborTimeoutDelay time.Duration `koanf:"neighbor_timeout_delay"`

	// GarbageCollectionDelay is how long an Invalid neighbor record lingers
	// before deletion (base value; jittered by 0..GCJitterMax).
	GarbageCollectionDelay time.Duration `koanf:"garbage_collection_delay"`

	// StartupDelay bounds the jitter applied to the first neighbor-discovery
	// request after interface-up.
	StartupDelay time.Duration `koanf:"startup_delay"`

	// SplitHorizon enables split-horizon suppression on periodic and
	// triggered updates.
	SplitHorizon bool `koanf:"split_horizon"`

	// RouteTimeoutDelay is how long a route may go without a refresh before
	// it is eligible for Expire invalidation.
	RouteTimeoutDelay time.Duration `koanf:"route_timeout_delay"`

	// SettlingTime is how long a new backup record must survive before
	// promotion eligibility.
	SettlingTime time.Duration `koanf:"settling_time"`

	// MinTriggeredCooldown and MaxTriggeredCooldown bound the jittered
	// cooldown between triggered updates (fast-triggered updates bypass it).
	MinTriggeredCooldown time.Duration `koanf:"min_triggered_cooldown"`
	MaxTriggeredCooldown time.Duration `koanf:"max_triggered_cooldown"`

	// PeriodicUpdateDelay is the base interval of the full-table periodic
	// update (jittered to [delay, 2*delay)).
	PeriodicUpdateDelay time.Duration `koanf:"periodic_update_delay"`

	// K1, K2, K3 are the per-hop metric weights.
	K1 uint8 `koanf:"k1"`
	K2 uint8 `koanf:"k2"`
	K3 uint8 `koanf:"k3"`

	// PrintingMethod selects the periodic debug snapshot surface:
	// "off", "main", "backup", or "neighbor".
	PrintingMethod string `koanf:"printing_method"`

	// RouteJitterMax and GCJitterMax bound the uniform jitter added to
	// route-refresh and garbage-collection deadlines respectively.
	RouteJitterMax time.Duration `koanf:"route_jitter_max"`
	GCJitterMax    time.Duration `koanf:"gc_jitter_max"`

	// LocalNeighborID is this router's own neighbor identifier, carried in
	// outbound KAMs.
	LocalNeighborID uint16 `koanf:"local_neighbor_id"`

	// AuthType, AuthData, and Identifier are this router's outbound
	// authentication tuple (plaintext only, see Non-goals).
	AuthType   uint8  `koanf:"auth_type"`
	AuthData   uint16 `koanf:"auth_data"`
	Identifier uint8  `koanf:"identifier"`

	// ExcludeInterfaces lists interface names never advertised on or
	// listened to.
	ExcludeInterfaces []string `koanf:"exclude_interfaces"`
}

// WireAuthType returns AuthType as the wire package's enum.
func (c ESLRConfig) WireAuthType() wire.AuthType {
	return wire.AuthType(c.AuthType)
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with conservative defaults: a
// 5s keep-alive, 60s periodic update, and 30s settling time are reasonable
// starting points for a lab or small ISP deployment.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: ":8275",
		},
		Metrics: MetricsConfig{
			Addr: ":9275",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		ESLR: ESLRConfig{
			KamInterval:            5 * time.Second,
			NeighborTimeoutDelay:   30 * time.Second,
			GarbageCollectionDelay: 10 * time.Second,
			StartupDelay:           5 * time.Second,
			SplitHorizon:           true,
			RouteTimeoutDelay:      180 * time.Second,
			SettlingTime:           30 * time.Second,
			MinTriggeredCooldown:   1 * time.Second,
			MaxTriggeredCooldown:   5 * time.Second,
			PeriodicUpdateDelay:    60 * time.Second,
			K1:                     1,
			K2:                     1,
			K3:                     1,
			PrintingMethod:         "off",
			RouteJitterMax:         2 * time.Second,
			GCJitterMax:            5 * time.Second,
			LocalNeighborID:        1,
			AuthType:               uint8(wire.AuthTypePlaintext),
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for eslrd configuration.
// Variables are named ESLRD_<section>_<key>, e.g., ESLRD_HTTP_ADDR.
const envPrefix = "ESLRD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (ESLRD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	ESLRD_HTTP_ADDR          -> http.addr
//	ESLRD_METRICS_ADDR       -> metrics.addr
//	ESLRD_LOG_LEVEL          -> log.level
//	ESLRD_ESLR_KAM_INTERVAL  -> eslr.kam_interval
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ESLRD_ESLR_KAM_INTERVAL -> eslr.kam_interval.
// Strips the ESLRD_ prefix, lowercases, and replaces the first _ with . so
// that multi-word keys (kam_interval) stay intact.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"http.addr":                     defaults.HTTP.Addr,
		"metrics.addr":                  defaults.Metrics.Addr,
		"metrics.path":                  defaults.Metrics.Path,
		"log.level":                     defaults.Log.Level,
		"log.format":                    defaults.Log.Format,
		"eslr.kam_interval":             defaults.ESLR.KamInterval.String(),
		"eslr.neighbor_timeout_delay":   defaults.ESLR.NeighborTimeoutDelay.String(),
		"eslr.garbage_collection_delay": defaults.ESLR.GarbageCollectionDelay.String(),
		"eslr.startup_delay":            defaults.ESLR.StartupDelay.String(),
		"eslr.split_horizon":            defaults.ESLR.SplitHorizon,
		"eslr.route_timeout_delay":      defaults.ESLR.RouteTimeoutDelay.String(),
		"eslr.settling_time":            defaults.ESLR.SettlingTime.String(),
		"eslr.min_triggered_cooldown":   defaults.ESLR.MinTriggeredCooldown.String(),
		"eslr.max_triggered_cooldown":   defaults.ESLR.MaxTriggeredCooldown.String(),
		"eslr.periodic_update_delay":    defaults.ESLR.PeriodicUpdateDelay.String(),
		"eslr.k1":                       defaults.ESLR.K1,
		"eslr.k2":                       defaults.ESLR.K2,
		"eslr.k3":                       defaults.ESLR.K3,
		"eslr.printing_method":          defaults.ESLR.PrintingMethod,
		"eslr.route_jitter_max":         defaults.ESLR.RouteJitterMax.String(),
		"eslr.gc_jitter_max":            defaults.ESLR.GCJitterMax.String(),
		"eslr.local_neighbor_id":        defaults.ESLR.LocalNeighborID,
		"eslr.auth_type":                defaults.ESLR.AuthType,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyHTTPAddr indicates the control API listen address is empty.
	ErrEmptyHTTPAddr = errors.New("http.addr must not be empty")

	// ErrInvalidKamInterval indicates the keep-alive interval is not positive.
	ErrInvalidKamInterval = errors.New("eslr.kam_interval must be > 0")

	// ErrInvalidNeighborTimeout indicates the neighbor timeout is not
	// strictly greater than the keep-alive interval.
	ErrInvalidNeighborTimeout = errors.New("eslr.neighbor_timeout_delay must exceed eslr.kam_interval")

	// ErrInvalidTriggeredCooldown indicates min/max triggered cooldown are
	// out of order.
	ErrInvalidTriggeredCooldown = errors.New("eslr.min_triggered_cooldown must be <= eslr.max_triggered_cooldown")

	// ErrInvalidPrintingMethod indicates an unrecognized printing_method value.
	ErrInvalidPrintingMethod = errors.New("eslr.printing_method must be one of off, main, backup, neighbor")
)

// ValidPrintingMethods lists the recognized printing_method strings.
var ValidPrintingMethods = map[string]bool{
	"off":      true,
	"main":     true,
	"backup":   true,
	"neighbor": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		return ErrEmptyHTTPAddr
	}

	if cfg.ESLR.KamInterval <= 0 {
		return ErrInvalidKamInterval
	}

	if cfg.ESLR.NeighborTimeoutDelay <= cfg.ESLR.KamInterval {
		return ErrInvalidNeighborTimeout
	}

	if cfg.ESLR.MinTriggeredCooldown > cfg.ESLR.MaxTriggeredCooldown {
		return ErrInvalidTriggeredCooldown
	}

	if !ValidPrintingMethods[cfg.ESLR.PrintingMethod] {
		return ErrInvalidPrintingMethod
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
