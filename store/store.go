// Package store defines the durable key-value storage behind the credit
// ledger and query history.
//
// Values are opaque bytes. The services own the encoding of each key; the
// backends only guarantee that a multi-entry Put is applied atomically.
package store

import "context"

// Persisted keys.
const (
	// KeyCredits holds the balance as decimal text.
	KeyCredits = "userCredits"

	// KeyTransactions holds the credit transaction log as a JSON array in
	// creation order.
	KeyTransactions = "creditTransactions"

	// KeyOpeningBalance holds the balance the retained transaction log
	// starts from, as decimal text. Absent means the default balance.
	KeyOpeningBalance = "creditOpeningBalance"

	// KeyHistory holds the query history as a JSON array, newest first.
	KeyHistory = "queryHistory"
)

// Entry is a single key-value pair to write.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the storage interface every backend implements.
type Store interface {
	// Get returns the value for key, or an error matching
	// getanswer.ErrNotFound when the key has never been written.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes all entries or none of them.
	Put(ctx context.Context, entries ...Entry) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Migrate creates whatever schema the backend needs. It is idempotent.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
