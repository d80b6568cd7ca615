// Command getanswer runs the credit ledger and question pipeline from the
// command line or as an HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/internal/config"
	"github.com/xraph/getanswer/provider/gemini"
	"github.com/xraph/getanswer/provider/vision"
	"github.com/xraph/getanswer/query"
	"github.com/xraph/getanswer/store/backend"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "getanswer",
	Short:         "Answer photographed exam questions, one credit charge at a time",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a .toml or .yaml config file")
}

func main() {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// providers builds the extraction and inference clients. Commands that never
// run a query pass needed=false and get nil providers.
func providers(cfg config.Config, needed bool) (query.Extractor, query.Answerer, error) {
	if !needed {
		return nil, nil, nil
	}
	if err := cfg.RequireProviders(); err != nil {
		return nil, nil, err
	}

	var vopts []vision.Option
	if cfg.Providers.VisionEndpoint != "" {
		vopts = append(vopts, vision.WithEndpoint(cfg.Providers.VisionEndpoint))
	}
	gopts := []gemini.Option{gemini.WithModel(cfg.Providers.Model)}
	if cfg.Providers.GeminiEndpoint != "" {
		gopts = append(gopts, gemini.WithEndpoint(cfg.Providers.GeminiEndpoint))
	}

	return vision.New(cfg.Providers.VisionAPIKey, vopts...),
		gemini.New(cfg.Providers.GeminiAPIKey, gopts...),
		nil
}

// openEngine opens the configured store and starts an engine over it. The
// caller must Stop the engine.
func openEngine(ctx context.Context, cfg config.Config, logger *slog.Logger, withProviders bool, extra ...getanswer.Option) (*getanswer.Engine, error) {
	extractor, answerer, err := providers(cfg, withProviders)
	if err != nil {
		return nil, err
	}

	if backend.Normalize(cfg.Storage.Driver) == backend.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	s, err := backend.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts := []getanswer.Option{
		getanswer.WithLogger(logger),
		getanswer.WithLedgerOptions(
			getanswer.WithDefaultBalance(cfg.Credits.DefaultBalance),
			getanswer.WithMaxTransactions(cfg.Credits.MaxTransactions),
		),
		getanswer.WithHistoryOptions(getanswer.WithMaxItems(cfg.History.MaxItems)),
		getanswer.WithPipelineOptions(
			getanswer.WithInferenceCost(cfg.Credits.InferenceCost),
			getanswer.WithExtractionCost(cfg.Credits.ExtractionCost),
			getanswer.WithExtractionMetering(cfg.Credits.ExtractionMetering),
		),
	}
	opts = append(opts, extra...)

	engine, err := getanswer.New(s, extractor, answerer, opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return engine, nil
}

// withEngine loads config, opens an engine, runs fn and stops the engine.
func withEngine(cmd *cobra.Command, withProviders bool, fn func(ctx context.Context, e *getanswer.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx := cmd.Context()
	engine, err := openEngine(ctx, cfg, logger, withProviders)
	if err != nil {
		return err
	}

	runErr := fn(ctx, engine)
	if err := engine.Stop(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		return err
	}
	return runErr
}
