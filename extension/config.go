package extension

import (
	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/store/backend"
)

// Config holds the getanswer extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.getanswer" or "getanswer" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Storage selects the store backend when none is set with WithStore
	// (default: memory).
	Storage backend.Config `json:"storage" mapstructure:"storage" yaml:"storage"`

	// DefaultBalance is granted when no balance is stored (default: 10).
	DefaultBalance int64 `json:"default_balance" mapstructure:"default_balance" yaml:"default_balance"`

	// MaxTransactions bounds the retained credit log (default: 500).
	MaxTransactions int `json:"max_transactions" mapstructure:"max_transactions" yaml:"max_transactions"`

	// MaxHistory bounds the query history (default: 50).
	MaxHistory int `json:"max_history" mapstructure:"max_history" yaml:"max_history"`

	// InferenceCost is charged before every inference (default: 2).
	InferenceCost int64 `json:"inference_cost" mapstructure:"inference_cost" yaml:"inference_cost"`

	// ExtractionMetering charges ExtractionCost for text extraction.
	ExtractionMetering bool `json:"extraction_metering" mapstructure:"extraction_metering" yaml:"extraction_metering"`

	// ExtractionCost is charged before extraction when metering is on
	// (default: 1).
	ExtractionCost int64 `json:"extraction_cost" mapstructure:"extraction_cost" yaml:"extraction_cost"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Storage:         backend.Config{Driver: backend.DriverMemory},
		DefaultBalance:  credit.DefaultBalance,
		MaxTransactions: credit.DefaultMaxTransactions,
		MaxHistory:      history.MaxItems,
		InferenceCost:   credit.InferenceCost,
		ExtractionCost:  credit.ExtractionCost,
	}
}
