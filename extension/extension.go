// Package extension provides the Forge extension adapter for getanswer.
//
// It implements the forge.Extension interface to integrate the credit
// ledger and query pipeline into a Forge application with DI registration
// and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.getanswer" or
// "getanswer" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/query"
	"github.com/xraph/getanswer/store"
	"github.com/xraph/getanswer/store/backend"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "getanswer"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Credit ledger and photographed-question pipeline"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts getanswer as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *getanswer.Engine
	store      store.Store
	extractor  query.Extractor
	answerer   query.Answerer
	engineOpts []getanswer.Option
}

// New creates a new getanswer Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *getanswer.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration, opens the
// store, builds the engine, and registers its services in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := backend.Open(context.Background(), e.config.Storage)
		if err != nil {
			return fmt.Errorf("getanswer: open store: %w", err)
		}
		e.store = s
	}

	eng, err := getanswer.New(e.store, e.extractor, e.answerer, e.buildEngineOpts()...)
	if err != nil {
		return err
	}
	e.engine = eng

	c := fapp.Container()
	if err := vessel.Provide(c, func() (*getanswer.Engine, error) { return e.engine, nil }); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*getanswer.Ledger, error) { return e.engine.Ledger(), nil }); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*getanswer.History, error) { return e.engine.History(), nil }); err != nil {
		return err
	}
	return vessel.Provide(c, func() (*getanswer.Pipeline, error) { return e.engine.Pipeline(), nil })
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("getanswer: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(ctx); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("getanswer: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs getanswer.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []getanswer.Option {
	opts := make([]getanswer.Option, 0, len(e.engineOpts)+4)

	opts = append(opts,
		getanswer.WithLedgerOptions(
			getanswer.WithDefaultBalance(e.config.DefaultBalance),
			getanswer.WithMaxTransactions(e.config.MaxTransactions),
		),
		getanswer.WithHistoryOptions(
			getanswer.WithMaxItems(e.config.MaxHistory),
		),
		getanswer.WithPipelineOptions(
			getanswer.WithInferenceCost(e.config.InferenceCost),
			getanswer.WithExtractionCost(e.config.ExtractionCost),
			getanswer.WithExtractionMetering(e.config.ExtractionMetering),
		),
	)

	if e.config.DisableMigrate {
		opts = append(opts, getanswer.WithoutMigrate())
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("getanswer: configuration is required but not found in config files; " +
				"ensure 'extensions.getanswer' or 'getanswer' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("getanswer: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("storage_driver", e.config.Storage.Driver),
		forge.F("default_balance", e.config.DefaultBalance),
		forge.F("max_transactions", e.config.MaxTransactions),
		forge.F("max_history", e.config.MaxHistory),
		forge.F("extraction_metering", e.config.ExtractionMetering),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.getanswer", "getanswer"} {
		if !cm.IsSet(key) {
			continue
		}

		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("getanswer: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}

		e.Logger().Debug("getanswer: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.DefaultBalance == 0 {
		cfg.DefaultBalance = defaults.DefaultBalance
	}
	if cfg.MaxTransactions == 0 {
		cfg.MaxTransactions = defaults.MaxTransactions
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = defaults.MaxHistory
	}
	if cfg.InferenceCost == 0 {
		cfg.InferenceCost = defaults.InferenceCost
	}
	if cfg.ExtractionCost == 0 {
		cfg.ExtractionCost = defaults.ExtractionCost
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.ExtractionMetering {
		yamlConfig.ExtractionMetering = true
	}

	if yamlConfig.Storage.Driver == "" && programmaticConfig.Storage.Driver != "" {
		yamlConfig.Storage = programmaticConfig.Storage
	}

	if yamlConfig.DefaultBalance == 0 {
		yamlConfig.DefaultBalance = programmaticConfig.DefaultBalance
	}
	if yamlConfig.MaxTransactions == 0 {
		yamlConfig.MaxTransactions = programmaticConfig.MaxTransactions
	}
	if yamlConfig.MaxHistory == 0 {
		yamlConfig.MaxHistory = programmaticConfig.MaxHistory
	}
	if yamlConfig.InferenceCost == 0 {
		yamlConfig.InferenceCost = programmaticConfig.InferenceCost
	}
	if yamlConfig.ExtractionCost == 0 {
		yamlConfig.ExtractionCost = programmaticConfig.ExtractionCost
	}

	return mergeWithDefaults(yamlConfig)
}
