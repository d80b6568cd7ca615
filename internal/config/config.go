// Package config loads and validates the getanswer command configuration
// from a TOML or YAML file and GETANSWER_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/store/backend"
)

// Config holds all command configuration.
type Config struct {
	Log       LogConfig       `toml:"log"       yaml:"log"`
	Storage   backend.Config  `toml:"storage"   yaml:"storage"`
	Server    ServerConfig    `toml:"server"    yaml:"server"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Credits   CreditsConfig   `toml:"credits"   yaml:"credits"`
	History   HistoryConfig   `toml:"history"   yaml:"history"`
	Providers ProviderConfig  `toml:"providers" yaml:"providers"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"  yaml:"level"`  // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // text or json
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string `toml:"addr"            yaml:"addr"`
	RequestTimeout string `toml:"request_timeout" yaml:"request_timeout"`
	Metrics        bool   `toml:"metrics"         yaml:"metrics"`
	Audit          bool   `toml:"audit"           yaml:"audit"`
}

// TelemetryConfig configures the OTLP trace exporter. An empty endpoint
// disables tracing.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"     yaml:"endpoint"`
	ServiceName string `toml:"service_name" yaml:"service_name"`
	Insecure    bool   `toml:"insecure"     yaml:"insecure"`
}

// CreditsConfig configures the ledger and pipeline amounts.
type CreditsConfig struct {
	DefaultBalance     int64 `toml:"default_balance"     yaml:"default_balance"`
	MaxTransactions    int   `toml:"max_transactions"    yaml:"max_transactions"`
	InferenceCost      int64 `toml:"inference_cost"      yaml:"inference_cost"`
	ExtractionCost     int64 `toml:"extraction_cost"     yaml:"extraction_cost"`
	ExtractionMetering bool  `toml:"extraction_metering" yaml:"extraction_metering"`
}

// HistoryConfig bounds the stored history.
type HistoryConfig struct {
	MaxItems int `toml:"max_items" yaml:"max_items"`
}

// ProviderConfig holds the extraction and inference service credentials.
type ProviderConfig struct {
	VisionAPIKey   string `toml:"vision_api_key"  yaml:"vision_api_key"`
	VisionEndpoint string `toml:"vision_endpoint" yaml:"vision_endpoint"`
	GeminiAPIKey   string `toml:"gemini_api_key"  yaml:"gemini_api_key"`
	GeminiEndpoint string `toml:"gemini_endpoint" yaml:"gemini_endpoint"`
	Model          string `toml:"model"           yaml:"model"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: backend.Config{
			Driver: backend.DriverSQLite,
			DSN:    defaultDBPath(),
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			RequestTimeout: "2m",
			Metrics:        true,
		},
		Telemetry: TelemetryConfig{ServiceName: "getanswer"},
		Credits: CreditsConfig{
			DefaultBalance:  getanswer.DefaultBalance,
			MaxTransactions: credit.DefaultMaxTransactions,
			InferenceCost:   getanswer.InferenceCost,
			ExtractionCost:  getanswer.ExtractionCost,
		},
		History: HistoryConfig{MaxItems: getanswer.MaxHistoryItems},
	}
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "getanswer.db"
	}
	return filepath.Join(dir, "getanswer", "getanswer.db")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses defaults and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported file type %q (want .toml, .yaml or .yml)", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = envStr("GETANSWER_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envStr("GETANSWER_LOG_FORMAT", cfg.Log.Format)

	cfg.Storage.Driver = envStr("GETANSWER_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DSN = envStr("GETANSWER_STORAGE_DSN", cfg.Storage.DSN)
	cfg.Storage.Database = envStr("GETANSWER_STORAGE_DATABASE", cfg.Storage.Database)
	cfg.Storage.Namespace = envStr("GETANSWER_STORAGE_NAMESPACE", cfg.Storage.Namespace)

	cfg.Server.Addr = envStr("GETANSWER_ADDR", cfg.Server.Addr)
	cfg.Server.RequestTimeout = envStr("GETANSWER_REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	cfg.Server.Metrics = envBool("GETANSWER_METRICS", cfg.Server.Metrics)
	cfg.Server.Audit = envBool("GETANSWER_AUDIT", cfg.Server.Audit)

	cfg.Telemetry.Endpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Insecure = envBool("GETANSWER_OTEL_INSECURE", cfg.Telemetry.Insecure)

	cfg.Credits.DefaultBalance = envInt64("GETANSWER_DEFAULT_BALANCE", cfg.Credits.DefaultBalance)
	cfg.Credits.InferenceCost = envInt64("GETANSWER_INFERENCE_COST", cfg.Credits.InferenceCost)
	cfg.Credits.ExtractionMetering = envBool("GETANSWER_EXTRACTION_METERING", cfg.Credits.ExtractionMetering)

	cfg.Providers.VisionAPIKey = envStr("GOOGLE_VISION_API_KEY", cfg.Providers.VisionAPIKey)
	cfg.Providers.GeminiAPIKey = envStr("GEMINI_API_KEY", cfg.Providers.GeminiAPIKey)
	cfg.Providers.Model = envStr("GETANSWER_MODEL", cfg.Providers.Model)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("config: storage: %w", err)
	}
	if _, err := c.Server.Timeout(); err != nil {
		return err
	}
	if c.Credits.DefaultBalance < 0 {
		return fmt.Errorf("config: credits.default_balance must not be negative")
	}
	if c.Credits.InferenceCost <= 0 {
		return fmt.Errorf("config: credits.inference_cost must be positive")
	}
	if c.Credits.ExtractionMetering && c.Credits.ExtractionCost <= 0 {
		return fmt.Errorf("config: credits.extraction_cost must be positive when metering is enabled")
	}
	if c.History.MaxItems <= 0 {
		return fmt.Errorf("config: history.max_items must be positive")
	}
	return nil
}

// RequireProviders reports missing provider credentials. Only commands that
// run queries call it.
func (c Config) RequireProviders() error {
	if c.Providers.VisionAPIKey == "" {
		return fmt.Errorf("config: GOOGLE_VISION_API_KEY is required")
	}
	if c.Providers.GeminiAPIKey == "" {
		return fmt.Errorf("config: GEMINI_API_KEY is required")
	}
	return nil
}

// Timeout parses RequestTimeout. Empty means no override.
func (s ServerConfig) Timeout() (time.Duration, error) {
	if s.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: server.request_timeout: %w", err)
	}
	return d, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
