package getanswer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/getanswer/plugin"
	"github.com/xraph/getanswer/query"
	"github.com/xraph/getanswer/store"
)

// Engine bundles the ledger, history and pipeline over one store and one
// plugin registry, and owns their lifecycle.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	ledgerOpts   []LedgerOption
	historyOpts  []HistoryOption
	pipelineOpts []PipelineOption
	pending      []plugin.Plugin
	skipMigrate  bool

	ledger   *Ledger
	history  *History
	pipeline *Pipeline
}

// New creates an Engine with the given store and capability providers.
func New(s store.Store, extractor query.Extractor, answerer query.Answerer, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:  s,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.plugins = plugin.NewRegistry().WithLogger(e.logger)
	for _, p := range e.pending {
		if err := e.plugins.Register(p); err != nil {
			return nil, fmt.Errorf("getanswer: register plugin: %w", err)
		}
	}

	e.ledger = NewLedger(s, append([]LedgerOption{
		WithLedgerLogger(e.logger),
		WithLedgerPlugins(e.plugins),
	}, e.ledgerOpts...)...)

	e.history = NewHistory(s, append([]HistoryOption{
		WithHistoryLogger(e.logger),
		WithHistoryPlugins(e.plugins),
	}, e.historyOpts...)...)

	e.pipeline = NewPipeline(e.ledger, e.history, extractor, answerer, append([]PipelineOption{
		WithPipelineLogger(e.logger),
		WithPipelinePlugins(e.plugins),
	}, e.pipelineOpts...)...)

	return e, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every service.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPlugin registers a plugin with the engine's registry.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) { e.pending = append(e.pending, p) }
}

// WithoutMigrate skips store migration on Start.
func WithoutMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// WithLedgerOptions passes options to the ledger.
func WithLedgerOptions(opts ...LedgerOption) Option {
	return func(e *Engine) { e.ledgerOpts = append(e.ledgerOpts, opts...) }
}

// WithHistoryOptions passes options to the history.
func WithHistoryOptions(opts ...HistoryOption) Option {
	return func(e *Engine) { e.historyOpts = append(e.historyOpts, opts...) }
}

// WithPipelineOptions passes options to the pipeline.
func WithPipelineOptions(opts ...PipelineOption) Option {
	return func(e *Engine) { e.pipelineOpts = append(e.pipelineOpts, opts...) }
}

// Ledger returns the credit ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// History returns the query history.
func (e *Engine) History() *History { return e.history }

// Pipeline returns the query pipeline.
func (e *Engine) Pipeline() *Pipeline { return e.pipeline }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Start migrates the store, loads the ledger and notifies plugins.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("getanswer: migrate: %w", err)
		}
	}

	balance := e.ledger.Load(ctx)
	e.plugins.EmitInit(ctx, e)

	e.logger.Info("getanswer started",
		"balance", balance,
		"plugins", e.plugins.Count(),
	)
	return nil
}

// Stop drains the pipeline, notifies plugins and closes the store. When ctx
// ends while runs are still active, Stop returns ErrRunsActive and leaves the
// store open until those runs finish and their refunds are settled.
func (e *Engine) Stop(ctx context.Context) error {
	perr := e.pipeline.Shutdown(ctx)
	e.plugins.EmitShutdown(ctx)

	if errors.Is(perr, ErrRunsActive) {
		go e.closeWhenDrained()
		return perr
	}

	if err := e.store.Close(); err != nil {
		return errors.Join(perr, fmt.Errorf("getanswer: close store: %w", err))
	}
	return perr
}

func (e *Engine) closeWhenDrained() {
	<-e.pipeline.drained()

	if _, err := e.pipeline.SettleOrphans(context.Background()); err != nil {
		e.logger.Error("charges left unsettled at close", "error", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("close store", "error", err)
	}
	e.logger.Debug("store closed after active runs drained")
}
