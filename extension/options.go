package extension

import (
	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/plugin"
	"github.com/xraph/getanswer/query"
	"github.com/xraph/getanswer/store"
	"github.com/xraph/getanswer/store/backend"
)

// Option configures the getanswer Forge extension.
type Option func(*Extension)

// WithStore sets the store, bypassing Config.Storage.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithExtractor sets the text extractor used by the pipeline.
func WithExtractor(x query.Extractor) Option {
	return func(e *Extension) { e.extractor = x }
}

// WithAnswerer sets the answerer used by the pipeline.
func WithAnswerer(a query.Answerer) Option {
	return func(e *Extension) { e.answerer = a }
}

// WithEngineOption passes a getanswer.Option through to the underlying engine.
func WithEngineOption(opt getanswer.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a getanswer plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, getanswer.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithStorage selects the store backend by driver and DSN.
func WithStorage(cfg backend.Config) Option {
	return func(e *Extension) { e.config.Storage = cfg }
}

// WithDefaultBalance sets the balance granted when none is stored.
func WithDefaultBalance(n int64) Option {
	return func(e *Extension) { e.config.DefaultBalance = n }
}

// WithMaxTransactions bounds the retained credit log.
func WithMaxTransactions(n int) Option {
	return func(e *Extension) { e.config.MaxTransactions = n }
}

// WithMaxHistory bounds the query history.
func WithMaxHistory(n int) Option {
	return func(e *Extension) { e.config.MaxHistory = n }
}

// WithExtractionMetering charges for text extraction.
func WithExtractionMetering(enabled bool) Option {
	return func(e *Extension) { e.config.ExtractionMetering = enabled }
}
