// Package plugin provides an extensible plugin system for getanswer.
// Plugins hook into ledger, pipeline and history events to add metrics,
// audit trails, or notifications without touching the core services.
package plugin

import (
	"context"

	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/query"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the owning service starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, service interface{}) error
}

// OnShutdown is called when the owning service is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Credit ledger hooks
// ──────────────────────────────────────────────────

// OnCreditsDeducted is called after a deduct is durably recorded.
type OnCreditsDeducted interface {
	Plugin
	OnCreditsDeducted(ctx context.Context, tx credit.Transaction, balance int64) error
}

// OnCreditsAdded is called after an add is durably recorded.
type OnCreditsAdded interface {
	Plugin
	OnCreditsAdded(ctx context.Context, tx credit.Transaction, balance int64) error
}

// OnCreditsRestored is called after a deduct has been reversed.
type OnCreditsRestored interface {
	Plugin
	OnCreditsRestored(ctx context.Context, original, restore credit.Transaction, balance int64) error
}

// OnInsufficientCredits is called when a deduct is refused.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, requested, balance int64) error
}

// OnLedgerUnavailable is called when a ledger write could not be persisted
// and the operation was rolled back.
type OnLedgerUnavailable interface {
	Plugin
	OnLedgerUnavailable(ctx context.Context, op string, err error) error
}

// ──────────────────────────────────────────────────
// Query pipeline hooks
// ──────────────────────────────────────────────────

// OnQueryCompleted is called when a run reaches Done.
type OnQueryCompleted interface {
	Plugin
	OnQueryCompleted(ctx context.Context, run *query.Run, entry history.Entry) error
}

// OnQueryFailed is called when a run reaches Failed.
type OnQueryFailed interface {
	Plugin
	OnQueryFailed(ctx context.Context, run *query.Run, err error) error
}

// OnPersistenceWarning is called when an answer was produced but could not
// be saved to history.
type OnPersistenceWarning interface {
	Plugin
	OnPersistenceWarning(ctx context.Context, run *query.Run, err error) error
}

// ──────────────────────────────────────────────────
// History hooks
// ──────────────────────────────────────────────────

// OnHistoryAppended is called after an entry is durably added to history.
type OnHistoryAppended interface {
	Plugin
	OnHistoryAppended(ctx context.Context, entry history.Entry) error
}

// OnHistoryCleared is called after the history has been cleared.
type OnHistoryCleared interface {
	Plugin
	OnHistoryCleared(ctx context.Context) error
}
