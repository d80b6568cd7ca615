package getanswer_test

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/id"
	"github.com/xraph/getanswer/store"
	"github.com/xraph/getanswer/store/memory"
)

var errDiskFull = errors.New("disk full")

func newLedger(t *testing.T, opts ...getanswer.LedgerOption) (*getanswer.Ledger, *memory.Store) {
	t.Helper()
	s := memory.New()
	return getanswer.NewLedger(s, opts...), s
}

func storedInt(t *testing.T, s *memory.Store, key string) int64 {
	t.Helper()
	raw, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%s) error: %v", key, err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		t.Fatalf("Get(%s) = %q, not an integer", key, raw)
	}
	return n
}

func assertReplays(t *testing.T, l *getanswer.Ledger) {
	t.Helper()
	ctx := context.Background()
	if err := l.Verify(ctx); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if got, want := credit.Replay(l.OpeningBalance(ctx), l.Transactions(ctx)), l.Balance(ctx); got != want {
		t.Fatalf("replay = %d, balance = %d", got, want)
	}
}

func TestLedgerLoadInitializesDefault(t *testing.T) {
	l, s := newLedger(t)
	ctx := context.Background()

	if got := l.Load(ctx); got != credit.DefaultBalance {
		t.Fatalf("Load() = %d, want %d", got, credit.DefaultBalance)
	}
	if got := storedInt(t, s, store.KeyCredits); got != credit.DefaultBalance {
		t.Errorf("persisted balance = %d, want %d", got, credit.DefaultBalance)
	}
	if n := len(l.Transactions(ctx)); n != 0 {
		t.Errorf("fresh ledger has %d transactions", n)
	}
}

func TestLedgerLoadFallsBack(t *testing.T) {
	tests := []struct {
		name string
		seed func(s *memory.Store)
		want int64
	}{
		{"stored", func(s *memory.Store) { s.Raw(store.KeyCredits, []byte("7")) }, 7},
		{"corrupt", func(s *memory.Store) { s.Raw(store.KeyCredits, []byte("seven")) }, credit.DefaultBalance},
		{"negative", func(s *memory.Store) { s.Raw(store.KeyCredits, []byte("-3")) }, credit.DefaultBalance},
		{"read error", func(s *memory.Store) { s.FailReads(errDiskFull) }, credit.DefaultBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			tt.seed(s)
			l := getanswer.NewLedger(s)
			if got := l.Load(context.Background()); got != tt.want {
				t.Errorf("Load() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLedgerReadErrorKeepsStoredState(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if _, err := getanswer.NewLedger(s).Add(ctx, 90, "seed"); err != nil {
		t.Fatal(err)
	}
	storedLog, err := s.Get(ctx, store.KeyTransactions)
	if err != nil {
		t.Fatal(err)
	}

	s.FailReads(errDiskFull)
	l := getanswer.NewLedger(s)
	if got := l.Load(ctx); got != credit.DefaultBalance {
		t.Fatalf("Load() = %d, want fallback %d", got, credit.DefaultBalance)
	}
	if _, err := l.Deduct(ctx, 2, credit.ReasonInference); !errors.Is(err, getanswer.ErrLedgerUnavailable) {
		t.Fatalf("Deduct() on unreadable store error = %v, want ErrLedgerUnavailable", err)
	}

	s.FailReads(nil)
	if got := storedInt(t, s, store.KeyCredits); got != 100 {
		t.Errorf("persisted balance = %d, want 100 untouched", got)
	}
	if raw, _ := s.Get(ctx, store.KeyTransactions); string(raw) != string(storedLog) {
		t.Errorf("persisted log changed to %s", raw)
	}

	// Once the store recovers the real state is read back.
	if _, err := l.Deduct(ctx, 2, credit.ReasonInference); err != nil {
		t.Fatalf("Deduct() after recovery error: %v", err)
	}
	if got := l.Balance(ctx); got != 98 {
		t.Errorf("Balance() = %d, want 98", got)
	}
	if n := len(l.Transactions(ctx)); n != 2 {
		t.Errorf("log has %d records, want 2", n)
	}
	assertReplays(t, l)
}

func TestLedgerLoadDerivesOpeningBalance(t *testing.T) {
	s := memory.New()
	s.Raw(store.KeyCredits, []byte("4"))
	s.Raw(store.KeyTransactions, []byte(`[{"id":"`+id.NewTransactionID().String()+`","type":"deduct","amount":2,"timestamp":"2026-01-01T00:00:00Z","status":"success"}]`))

	l := getanswer.NewLedger(s)
	ctx := context.Background()

	if got := l.OpeningBalance(ctx); got != 6 {
		t.Errorf("OpeningBalance() = %d, want 6", got)
	}
	assertReplays(t, l)
}

func TestLedgerDeduct(t *testing.T) {
	l, s := newLedger(t)
	ctx := context.Background()

	txID, err := l.Deduct(ctx, 2, credit.ReasonInference)
	if err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	if got := l.Balance(ctx); got != 8 {
		t.Errorf("Balance() = %d, want 8", got)
	}
	if got := storedInt(t, s, store.KeyCredits); got != 8 {
		t.Errorf("persisted balance = %d, want 8", got)
	}

	tx, err := l.Transaction(ctx, txID)
	if err != nil {
		t.Fatalf("Transaction() error: %v", err)
	}
	if tx.Kind != credit.KindDeduct || tx.Amount != 2 || tx.Status != credit.StatusSuccess || tx.Reason != credit.ReasonInference {
		t.Errorf("unexpected record %+v", tx)
	}
	assertReplays(t, l)
}

func TestLedgerDeductInsufficient(t *testing.T) {
	l, s := newLedger(t, getanswer.WithDefaultBalance(1))
	ctx := context.Background()
	l.Load(ctx)
	puts := s.Puts()

	_, err := l.Deduct(ctx, 2, credit.ReasonInference)
	if !errors.Is(err, getanswer.ErrInsufficientCredits) {
		t.Fatalf("Deduct() error = %v, want ErrInsufficientCredits", err)
	}
	if got := l.Balance(ctx); got != 1 {
		t.Errorf("Balance() = %d, want 1", got)
	}
	if n := len(l.Transactions(ctx)); n != 0 {
		t.Errorf("refused deduct recorded %d transactions", n)
	}
	if s.Puts() != puts {
		t.Error("refused deduct wrote to the store")
	}
}

func TestLedgerInvalidAmount(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -1} {
		if _, err := l.Deduct(ctx, amount, "x"); !errors.Is(err, getanswer.ErrInvalidAmount) {
			t.Errorf("Deduct(%d) error = %v", amount, err)
		}
		if _, err := l.Add(ctx, amount, "x"); !errors.Is(err, getanswer.ErrInvalidAmount) {
			t.Errorf("Add(%d) error = %v", amount, err)
		}
	}
}

func TestLedgerAddDeductRoundTrip(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	before := l.Load(ctx)

	if _, err := l.Add(ctx, 50, "grant:credits_50"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Deduct(ctx, 50, "refund"); err != nil {
		t.Fatal(err)
	}

	if got := l.Balance(ctx); got != before {
		t.Errorf("Balance() = %d, want %d", got, before)
	}
	if n := len(l.Transactions(ctx)); n != 2 {
		t.Errorf("got %d transactions, want 2", n)
	}
	assertReplays(t, l)
}

func TestLedgerRestore(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	txID, err := l.Deduct(ctx, 2, credit.ReasonInference)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Restore(ctx, txID); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}

	if got := l.Balance(ctx); got != 10 {
		t.Errorf("Balance() = %d, want 10", got)
	}

	txs := l.Transactions(ctx)
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	if txs[0].Status != credit.StatusFailed {
		t.Errorf("restored deduct status = %s, want failed", txs[0].Status)
	}
	if txs[1].Kind != credit.KindRestore || txs[1].Restores.String() != txID.String() {
		t.Errorf("unexpected restore record %+v", txs[1])
	}
	assertReplays(t, l)
}

func TestLedgerRestoreIdempotent(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	txID, _ := l.Deduct(ctx, 2, credit.ReasonInference)
	if err := l.Restore(ctx, txID); err != nil {
		t.Fatal(err)
	}

	err := l.Restore(ctx, txID)
	if !errors.Is(err, getanswer.ErrInvalidTransaction) {
		t.Fatalf("second Restore() error = %v, want ErrInvalidTransaction", err)
	}
	if got := l.Balance(ctx); got != 10 {
		t.Errorf("Balance() = %d, want 10", got)
	}
	if n := len(l.Transactions(ctx)); n != 2 {
		t.Errorf("got %d transactions, want 2", n)
	}
}

func TestLedgerRestoreRejects(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	addID, _ := l.Add(ctx, 5, "bonus")

	for name, txID := range map[string]id.TransactionID{
		"unknown": id.NewTransactionID(),
		"add":     addID,
	} {
		if err := l.Restore(ctx, txID); !errors.Is(err, getanswer.ErrInvalidTransaction) {
			t.Errorf("%s: Restore() error = %v, want ErrInvalidTransaction", name, err)
		}
	}
	if got := l.Balance(ctx); got != 15 {
		t.Errorf("Balance() = %d, want 15", got)
	}
}

func TestLedgerWriteFailureRollsBack(t *testing.T) {
	l, s := newLedger(t)
	ctx := context.Background()

	txID, err := l.Deduct(ctx, 2, credit.ReasonInference)
	if err != nil {
		t.Fatal(err)
	}

	s.FailWrites(errDiskFull)

	ops := map[string]func() error{
		"deduct": func() error {
			_, err := l.Deduct(ctx, 2, credit.ReasonInference)
			return err
		},
		"add": func() error {
			_, err := l.Add(ctx, 2, "bonus")
			return err
		},
		"restore": func() error { return l.Restore(ctx, txID) },
	}

	for name, op := range ops {
		err := op()
		if !errors.Is(err, getanswer.ErrLedgerUnavailable) || !errors.Is(err, errDiskFull) {
			t.Errorf("%s error = %v, want ErrLedgerUnavailable wrapping the cause", name, err)
		}
	}

	if got := l.Balance(ctx); got != 8 {
		t.Errorf("Balance() = %d, want 8", got)
	}
	txs := l.Transactions(ctx)
	if len(txs) != 1 || txs[0].Status != credit.StatusSuccess {
		t.Errorf("log changed after failed writes: %+v", txs)
	}

	s.FailWrites(nil)
	if err := l.Restore(ctx, txID); err != nil {
		t.Fatalf("Restore() after recovery error: %v", err)
	}
	assertReplays(t, l)
}

func TestLedgerGrant(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	txID, err := l.Grant(ctx, "credits_50")
	if err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	if got := l.Balance(ctx); got != 60 {
		t.Errorf("Balance() = %d, want 60", got)
	}
	tx, _ := l.Transaction(ctx, txID)
	if tx.Reason != "grant:credits_50" {
		t.Errorf("Reason = %q", tx.Reason)
	}

	if _, err := l.Grant(ctx, "credits_1000"); !errors.Is(err, getanswer.ErrGrantNotFound) {
		t.Errorf("Grant(unknown) error = %v, want ErrGrantNotFound", err)
	}
}

func TestLedgerRetentionFoldsOpening(t *testing.T) {
	l, s := newLedger(t, getanswer.WithMaxTransactions(3), getanswer.WithDefaultBalance(100))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Deduct(ctx, 1, credit.ReasonInference); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.Add(ctx, 10, "bonus"); err != nil {
		t.Fatal(err)
	}

	if n := len(l.Transactions(ctx)); n != 3 {
		t.Fatalf("retained %d transactions, want 3", n)
	}
	if got := l.Balance(ctx); got != 105 {
		t.Errorf("Balance() = %d, want 105", got)
	}
	if got := l.OpeningBalance(ctx); got != 97 {
		t.Errorf("OpeningBalance() = %d, want 97", got)
	}
	if got := storedInt(t, s, store.KeyOpeningBalance); got != 97 {
		t.Errorf("persisted opening = %d, want 97", got)
	}
	assertReplays(t, l)

	// A reloaded ledger sees the same window.
	reloaded := getanswer.NewLedger(s)
	assertReplays(t, reloaded)
	if got := reloaded.Balance(ctx); got != 105 {
		t.Errorf("reloaded Balance() = %d, want 105", got)
	}
}

func TestLedgerConcurrentDeductsNeverOverdraw(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Deduct(ctx, 2, credit.ReasonInference); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Errorf("%d deducts succeeded, want 5", succeeded)
	}
	if got := l.Balance(ctx); got != 0 {
		t.Errorf("Balance() = %d, want 0", got)
	}
	assertReplays(t, l)
}

func TestLedgerVerifyDetectsDivergence(t *testing.T) {
	s := memory.New()
	s.Raw(store.KeyCredits, []byte("9"))
	s.Raw(store.KeyTransactions, []byte("[]"))
	s.Raw(store.KeyOpeningBalance, []byte("10"))

	l := getanswer.NewLedger(s)
	if err := l.Verify(context.Background()); !errors.Is(err, getanswer.ErrLedgerDiverged) {
		t.Errorf("Verify() error = %v, want ErrLedgerDiverged", err)
	}
}

func TestLedgerReplayHoldsForRandomSequences(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 2026} {
		rng := rand.New(rand.NewSource(seed))
		s := memory.New()
		l := getanswer.NewLedger(s, getanswer.WithMaxTransactions(8))
		ctx := context.Background()

		var deducts []id.TransactionID
		for step := 0; step < 300; step++ {
			var err error
			switch rng.Intn(3) {
			case 0:
				var txID id.TransactionID
				txID, err = l.Deduct(ctx, int64(rng.Intn(4)+1), credit.ReasonInference)
				if err == nil {
					deducts = append(deducts, txID)
				}
			case 1:
				_, err = l.Add(ctx, int64(rng.Intn(5)+1), "bonus")
			default:
				if len(deducts) == 0 {
					continue
				}
				err = l.Restore(ctx, deducts[rng.Intn(len(deducts))])
			}
			if err != nil && !errors.Is(err, getanswer.ErrInsufficientCredits) && !errors.Is(err, getanswer.ErrInvalidTransaction) {
				t.Fatalf("seed %d step %d: unexpected error %v", seed, step, err)
			}

			balance := l.Balance(ctx)
			if balance < 0 {
				t.Fatalf("seed %d step %d: negative balance %d", seed, step, balance)
			}
			if got := credit.Replay(l.OpeningBalance(ctx), l.Transactions(ctx)); got != balance {
				t.Fatalf("seed %d step %d: replay = %d, balance = %d", seed, step, got, balance)
			}
		}

		reloaded := getanswer.NewLedger(s)
		if got, want := reloaded.Balance(ctx), l.Balance(ctx); got != want {
			t.Errorf("seed %d: reloaded balance = %d, want %d", seed, got, want)
		}
		assertReplays(t, reloaded)
	}
}
