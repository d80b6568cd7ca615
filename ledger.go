package getanswer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/grant"
	"github.com/xraph/getanswer/id"
	"github.com/xraph/getanswer/plugin"
	"github.com/xraph/getanswer/store"
)

// Ledger owns the credit balance and its transaction log. All mutations
// are serialized and written through to the store before they become
// visible; a failed write leaves the in-memory state untouched.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	catalog *grant.Catalog
	now     func() time.Time

	defaultBalance  int64
	maxTransactions int

	mu      sync.Mutex
	loaded  bool
	balance int64
	opening int64
	txs     []credit.Transaction
}

// NewLedger creates a Ledger over s. State is read lazily on first use.
func NewLedger(s store.Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		catalog:         grant.DefaultCatalog(),
		now:             time.Now,
		defaultBalance:  credit.DefaultBalance,
		maxTransactions: credit.DefaultMaxTransactions,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerLogger sets the logger.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// WithLedgerPlugins shares a plugin registry with the ledger.
func WithLedgerPlugins(r *plugin.Registry) LedgerOption {
	return func(l *Ledger) { l.plugins = r }
}

// WithDefaultBalance sets the balance granted when none is stored.
func WithDefaultBalance(n int64) LedgerOption {
	return func(l *Ledger) {
		if n >= 0 {
			l.defaultBalance = n
		}
	}
}

// WithMaxTransactions bounds the retained transaction log. Zero keeps every
// record.
func WithMaxTransactions(n int) LedgerOption {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxTransactions = n
		}
	}
}

// WithGrantCatalog replaces the default grant catalog.
func WithGrantCatalog(c *grant.Catalog) LedgerOption {
	return func(l *Ledger) {
		if c != nil {
			l.catalog = c
		}
	}
}

// WithLedgerClock overrides the clock used for transaction timestamps.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// Catalog returns the grant catalog.
func (l *Ledger) Catalog() *grant.Catalog { return l.catalog }

// ──────────────────────────────────────────────────
// Loading
// ──────────────────────────────────────────────────

// Load reads the persisted balance and log. An absent balance is
// initialized to the default and persisted. When the store cannot be read
// the default is served from memory only, nothing is written, and the next
// call retries the read. Load never fails; problems are logged.
func (l *Ledger) Load(ctx context.Context) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.loadLocked(ctx)
	return l.balance
}

// loadLocked returns ErrStorageUnavailable when any ledger key could not be
// read. The ledger then stays unloaded and refuses to commit, so a partial
// read never overwrites the stored log.
func (l *Ledger) loadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	balance, err := l.readInt(ctx, store.KeyCredits)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, errCorruptValue):
		balance = l.defaultBalance
		if err := l.store.Put(ctx, store.Entry{Key: store.KeyCredits, Value: encodeInt(balance)}); err != nil {
			l.logger.Warn("ledger: failed to persist default balance", "error", err)
			return l.fallbackLocked(err)
		}
	case err != nil:
		return l.fallbackLocked(err)
	}

	txs, err := l.readTransactions(ctx)
	if err != nil {
		return l.fallbackLocked(err)
	}

	opening, err := l.readInt(ctx, store.KeyOpeningBalance)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, errCorruptValue):
		// No usable opening balance: derive it so the log replays to the
		// stored balance.
		opening = balance - credit.Replay(0, txs)
	case err != nil:
		return l.fallbackLocked(err)
	}

	if replayed := credit.Replay(opening, txs); replayed != balance {
		l.logger.Warn("ledger: balance does not match transaction log",
			"balance", balance,
			"replayed", replayed,
		)
	}

	l.balance = balance
	l.opening = opening
	l.txs = txs
	l.loaded = true

	l.logger.Debug("ledger loaded",
		"balance", balance,
		"transactions", len(txs),
	)
	return nil
}

// fallbackLocked serves the default balance in memory while the store is
// unreadable.
func (l *Ledger) fallbackLocked(err error) error {
	l.balance = l.defaultBalance
	l.opening = l.defaultBalance
	l.txs = nil
	l.logger.Warn("ledger: storage unreadable, serving default balance", "error", err)
	return fmt.Errorf("%w: load ledger: %w", ErrStorageUnavailable, err)
}

var errCorruptValue = errors.New("corrupt value")

// readInt returns ErrNotFound for an absent key and errCorruptValue for a
// value that is not a non-negative integer.
func (l *Ledger) readInt(ctx context.Context, key string) (int64, error) {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || (key == store.KeyCredits && n < 0) {
		l.logger.Warn("ledger: stored value is not a valid balance", "key", key, "value", string(raw))
		return 0, errCorruptValue
	}
	return n, nil
}

func (l *Ledger) readTransactions(ctx context.Context) ([]credit.Transaction, error) {
	raw, err := l.store.Get(ctx, store.KeyTransactions)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var txs []credit.Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		l.logger.Warn("ledger: transaction log is corrupt, starting empty", "error", err)
		return nil, nil
	}
	return txs, nil
}

// ──────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────

// Deduct removes amount from the balance and records a successful deduct.
// It returns ErrInsufficientCredits, without recording anything, when the
// balance is lower than amount.
func (l *Ledger) Deduct(ctx context.Context, amount int64, reason string) (id.TransactionID, error) {
	if amount <= 0 {
		return id.Nil, fmt.Errorf("%w: deduct %d", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	if err := l.loadLocked(ctx); err != nil {
		l.mu.Unlock()
		return id.Nil, l.unavailable(ctx, "deduct", err)
	}

	if l.balance < amount {
		balance := l.balance
		l.mu.Unlock()

		l.plugins.EmitInsufficientCredits(ctx, amount, balance)
		return id.Nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientCredits, amount, balance)
	}

	tx := l.newTransaction(credit.KindDeduct, amount, reason)
	next := append(credit.Clone(l.txs), tx)
	balance := l.balance - amount

	if err := l.commitLocked(ctx, balance, next); err != nil {
		l.mu.Unlock()
		return id.Nil, l.unavailable(ctx, "deduct", err)
	}
	l.mu.Unlock()

	l.logger.Debug("credits deducted",
		"tx_id", tx.ID.String(),
		"amount", amount,
		"reason", reason,
		"balance", balance,
	)
	l.plugins.EmitCreditsDeducted(ctx, tx, balance)

	return tx.ID, nil
}

// Add credits the balance and records a successful add.
func (l *Ledger) Add(ctx context.Context, amount int64, reason string) (id.TransactionID, error) {
	if amount <= 0 {
		return id.Nil, fmt.Errorf("%w: add %d", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	if err := l.loadLocked(ctx); err != nil {
		l.mu.Unlock()
		return id.Nil, l.unavailable(ctx, "add", err)
	}

	tx := l.newTransaction(credit.KindAdd, amount, reason)
	next := append(credit.Clone(l.txs), tx)
	balance := l.balance + amount

	if err := l.commitLocked(ctx, balance, next); err != nil {
		l.mu.Unlock()
		return id.Nil, l.unavailable(ctx, "add", err)
	}
	l.mu.Unlock()

	l.logger.Info("credits added",
		"tx_id", tx.ID.String(),
		"amount", amount,
		"reason", reason,
		"balance", balance,
	)
	l.plugins.EmitCreditsAdded(ctx, tx, balance)

	return tx.ID, nil
}

// Restore reverses a successful deduct: the amount is credited back, the
// deduct is marked failed and a restore record referencing it is appended.
// Restoring an unknown, non-deduct, or already restored transaction returns
// ErrInvalidTransaction and changes nothing.
func (l *Ledger) Restore(ctx context.Context, txID id.TransactionID) error {
	l.mu.Lock()
	if err := l.loadLocked(ctx); err != nil {
		l.mu.Unlock()
		return l.unavailable(ctx, "restore", err)
	}

	i := credit.Index(l.txs, txID)
	if i < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s not found", ErrInvalidTransaction, txID)
	}
	if !l.txs[i].Restorable() {
		t := l.txs[i]
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is a %s with status %s", ErrInvalidTransaction, txID, t.Kind, t.Status)
	}

	next := credit.Clone(l.txs)
	next[i].Status = credit.StatusFailed
	original := next[i]

	restore := l.newTransaction(credit.KindRestore, original.Amount, original.Reason)
	restore.Restores = original.ID
	next = append(next, restore)
	balance := l.balance + original.Amount

	if err := l.commitLocked(ctx, balance, next); err != nil {
		l.mu.Unlock()
		return l.unavailable(ctx, "restore", err)
	}
	l.mu.Unlock()

	l.logger.Info("credits restored",
		"tx_id", original.ID.String(),
		"amount", original.Amount,
		"balance", balance,
	)
	l.plugins.EmitCreditsRestored(ctx, original, restore, balance)

	return nil
}

// Grant adds the credits of the named catalog grant.
func (l *Ledger) Grant(ctx context.Context, key string) (id.TransactionID, error) {
	g, ok := l.catalog.Lookup(key)
	if !ok {
		return id.Nil, fmt.Errorf("%w: %s", ErrGrantNotFound, key)
	}
	return l.Add(ctx, g.Credits, "grant:"+g.Key)
}

func (l *Ledger) newTransaction(kind credit.Kind, amount int64, reason string) credit.Transaction {
	return credit.Transaction{
		ID:        id.NewTransactionID(),
		Kind:      kind,
		Amount:    amount,
		Reason:    reason,
		Timestamp: l.now().UTC(),
		Status:    credit.StatusSuccess,
	}
}

// commitLocked applies retention, writes balance and log in one atomic Put,
// and only then swaps the in-memory state. Must be called with l.mu held.
func (l *Ledger) commitLocked(ctx context.Context, balance int64, txs []credit.Transaction) error {
	opening, txs := credit.Trim(l.opening, txs, l.maxTransactions)

	data, err := json.Marshal(txs)
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}

	err = l.store.Put(ctx,
		store.Entry{Key: store.KeyCredits, Value: encodeInt(balance)},
		store.Entry{Key: store.KeyTransactions, Value: data},
		store.Entry{Key: store.KeyOpeningBalance, Value: encodeInt(opening)},
	)
	if err != nil {
		return err
	}

	l.balance = balance
	l.opening = opening
	l.txs = txs
	return nil
}

func (l *Ledger) unavailable(ctx context.Context, op string, err error) error {
	l.logger.Error("ledger: storage unavailable, operation rolled back",
		"op", op,
		"error", err,
	)
	l.plugins.EmitLedgerUnavailable(ctx, op, err)
	return fmt.Errorf("%w: %s: %w", ErrLedgerUnavailable, op, err)
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Balance returns the current balance.
func (l *Ledger) Balance(ctx context.Context) int64 {
	return l.Load(ctx)
}

// Transactions returns a copy of the retained log in creation order.
func (l *Ledger) Transactions(ctx context.Context) []credit.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.loadLocked(ctx)
	return credit.Clone(l.txs)
}

// Transaction returns one record from the retained log.
func (l *Ledger) Transaction(ctx context.Context, txID id.TransactionID) (credit.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.loadLocked(ctx)
	if i := credit.Index(l.txs, txID); i >= 0 {
		return l.txs[i], nil
	}
	return credit.Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
}

// OpeningBalance returns the balance the retained log replays from.
func (l *Ledger) OpeningBalance(ctx context.Context) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.loadLocked(ctx)
	return l.opening
}

// Verify replays the retained log and reports ErrLedgerDiverged if it does
// not reproduce the balance.
func (l *Ledger) Verify(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return err
	}
	if replayed := credit.Replay(l.opening, l.txs); replayed != l.balance {
		return fmt.Errorf("%w: balance %d, replayed %d", ErrLedgerDiverged, l.balance, replayed)
	}
	return nil
}

func encodeInt(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}
