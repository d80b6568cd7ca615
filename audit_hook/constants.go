package audithook

// Audited actions.
const (
	ActionCreditsDeducted     = "credits.deducted"
	ActionCreditsAdded        = "credits.added"
	ActionCreditsRestored     = "credits.restored"
	ActionInsufficientCredits = "credits.insufficient"
	ActionLedgerUnavailable   = "ledger.unavailable"

	ActionQueryCompleted     = "query.completed"
	ActionQueryFailed        = "query.failed"
	ActionPersistenceWarning = "query.persistence_warning"

	ActionHistoryCleared = "history.cleared"
)

// Actions lists every action the extension can emit.
var Actions = []string{
	ActionCreditsDeducted,
	ActionCreditsAdded,
	ActionCreditsRestored,
	ActionInsufficientCredits,
	ActionLedgerUnavailable,
	ActionQueryCompleted,
	ActionQueryFailed,
	ActionPersistenceWarning,
	ActionHistoryCleared,
}

// Resources.
const (
	ResourceTransaction = "transaction"
	ResourceLedger      = "ledger"
	ResourceQuery       = "query"
	ResourceHistory     = "history"
)

// Categories.
const (
	CategoryCredits = "credits"
	CategoryQuery   = "query"
	CategoryData    = "data"
)

// Severities, lowest first.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcomes. Partial marks an answered query that was not saved.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
