package getanswer

import (
	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/query"
)

// Re-export the record types so callers of the services rarely need the
// model packages directly.

// Transaction is re-exported from the credit package.
type Transaction = credit.Transaction

// HistoryEntry is re-exported from the history package.
type HistoryEntry = history.Entry

// Image is re-exported from the query package.
type Image = query.Image

// Re-export the default amounts.
const (
	DefaultBalance  = credit.DefaultBalance
	InferenceCost   = credit.InferenceCost
	ExtractionCost  = credit.ExtractionCost
	MaxHistoryItems = history.MaxItems
)
