// Package credit defines the credit transaction record and the pure
// arithmetic over a transaction log.
package credit

import (
	"time"

	"github.com/xraph/getanswer/id"
)

// Default amounts.
const (
	// DefaultBalance is granted on first launch when no balance is stored.
	DefaultBalance int64 = 10

	// InferenceCost is charged immediately before each inference call.
	InferenceCost int64 = 2

	// ExtractionCost is charged before text extraction when extraction
	// metering is enabled.
	ExtractionCost int64 = 1

	// DefaultMaxTransactions bounds the retained transaction log.
	DefaultMaxTransactions = 500
)

// Reasons recorded by the query pipeline.
const (
	ReasonInference  = "inference"
	ReasonExtraction = "extraction"
)

// Kind is the type of balance mutation a transaction records.
type Kind string

const (
	KindDeduct  Kind = "deduct"
	KindAdd     Kind = "add"
	KindRestore Kind = "restore"
)

// Status of a transaction. Only deducts ever move to StatusFailed, and
// only when restored.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Transaction is one balance mutation in the append-only log.
type Transaction struct {
	ID        id.TransactionID `json:"id"`
	Kind      Kind             `json:"type"`
	Amount    int64            `json:"amount"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Status    Status           `json:"status"`

	// Restores is set on restore records and names the deduct they reversed.
	Restores id.TransactionID `json:"restores,omitzero"`
}

// Effect is the signed contribution of t to the balance.
// Failed deducts and restore records contribute nothing: a restore is
// accounted for by flipping its deduct to failed.
func (t Transaction) Effect() int64 {
	switch t.Kind {
	case KindAdd:
		return t.Amount
	case KindDeduct:
		if t.Status == StatusSuccess {
			return -t.Amount
		}
	}
	return 0
}

// Restorable reports whether t is a deduct that has not yet been restored.
func (t Transaction) Restorable() bool {
	return t.Kind == KindDeduct && t.Status == StatusSuccess
}

// Replay recomputes a balance from an opening balance and a log.
func Replay(opening int64, txs []Transaction) int64 {
	balance := opening
	for _, t := range txs {
		balance += t.Effect()
	}
	return balance
}

// Index returns the position of the transaction with the given id, or -1.
func Index(txs []Transaction, txID id.TransactionID) int {
	for i := range txs {
		if txs[i].ID.Equal(txID) {
			return i
		}
	}
	return -1
}

// Trim keeps at most limit of the newest transactions. The net effect of
// every evicted record is folded into the returned opening balance so that
// Replay(opening, kept) is unchanged. A limit of zero or less keeps all.
func Trim(opening int64, txs []Transaction, limit int) (int64, []Transaction) {
	if limit <= 0 || len(txs) <= limit {
		return opening, txs
	}

	cut := len(txs) - limit
	for _, t := range txs[:cut] {
		opening += t.Effect()
	}

	kept := make([]Transaction, limit)
	copy(kept, txs[cut:])
	return opening, kept
}

// Clone returns an independent copy of txs.
func Clone(txs []Transaction) []Transaction {
	if txs == nil {
		return nil
	}
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out
}
