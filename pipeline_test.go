package getanswer_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/query"
	"github.com/xraph/getanswer/store"
	"github.com/xraph/getanswer/store/memory"
)

type fixture struct {
	store    *memory.Store
	ledger   *getanswer.Ledger
	history  *getanswer.History
	pipeline *getanswer.Pipeline
	answers  int
}

func newFixture(t *testing.T, balance int64, extract query.ExtractorFunc, answer query.AnswererFunc, opts ...getanswer.PipelineOption) *fixture {
	t.Helper()
	f := &fixture{store: memory.New()}
	f.ledger = getanswer.NewLedger(f.store, getanswer.WithDefaultBalance(balance))
	f.history = getanswer.NewHistory(f.store)

	counted := query.AnswererFunc(func(ctx context.Context, text string) (string, error) {
		f.answers++
		return answer(ctx, text)
	})
	f.pipeline = getanswer.NewPipeline(f.ledger, f.history, extract, counted, opts...)
	return f
}

func extractText(s string) query.ExtractorFunc {
	return func(context.Context, query.Image) (string, error) { return s, nil }
}

func answerWith(s string) query.AnswererFunc {
	return func(context.Context, string) (string, error) { return s, nil }
}

func answerErr(err error) query.AnswererFunc {
	return func(context.Context, string) (string, error) { return "", err }
}

var photo = query.Image{Ref: "file:///photos/q1.jpg", Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"}

func pipelineError(t *testing.T, err error) *getanswer.PipelineError {
	t.Helper()
	var perr *getanswer.PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a *PipelineError", err)
	}
	return perr
}

func TestRunQuerySuccess(t *testing.T) {
	f := newFixture(t, 10, extractText("2+2=?"), answerWith("4"))
	ctx := context.Background()

	res, err := f.pipeline.RunQuery(ctx, photo)
	if err != nil {
		t.Fatalf("RunQuery() error: %v", err)
	}

	if res.Balance != 8 || f.ledger.Balance(ctx) != 8 {
		t.Errorf("balance = %d, want 8", res.Balance)
	}
	if res.Run.Phase != query.PhaseDone {
		t.Errorf("Phase = %s, want done", res.Run.Phase)
	}
	if res.Warning != nil {
		t.Errorf("unexpected warning: %v", res.Warning)
	}

	txs := f.ledger.Transactions(ctx)
	if len(txs) != 1 || txs[0].Kind != credit.KindDeduct || txs[0].Amount != 2 || txs[0].Status != credit.StatusSuccess {
		t.Fatalf("transactions = %+v, want one successful deduct of 2", txs)
	}
	if txs[0].ID.String() != res.Run.ChargedTransactionID.String() {
		t.Error("run does not reference its charge")
	}

	entries, _ := f.history.List(ctx)
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ExtractedText != "2+2=?" || e.AnswerText != "4" || e.ImageRef == nil || *e.ImageRef != photo.Ref {
		t.Errorf("entry = %+v", e)
	}
	if len(f.pipeline.InFlight()) != 0 {
		t.Error("completed run left a charge in flight")
	}
}

func TestRunQueryInsufficientCredits(t *testing.T) {
	f := newFixture(t, 1, extractText("2+2=?"), answerWith("4"))
	ctx := context.Background()

	_, err := f.pipeline.RunQuery(ctx, photo)
	if !errors.Is(err, getanswer.ErrInsufficientCredits) {
		t.Fatalf("RunQuery() error = %v, want ErrInsufficientCredits", err)
	}
	perr := pipelineError(t, err)
	if perr.Kind != query.FailureInsufficientCredits || perr.Phase != query.PhaseAwaitingAuthorization {
		t.Errorf("PipelineError = %+v", perr)
	}
	if !getanswer.IsUserRecoverable(err) {
		t.Error("insufficient credits should be user recoverable")
	}

	if got := f.ledger.Balance(ctx); got != 1 {
		t.Errorf("Balance() = %d, want 1", got)
	}
	if n := len(f.ledger.Transactions(ctx)); n != 0 {
		t.Errorf("recorded %d transactions, want 0", n)
	}
	if f.answers != 0 {
		t.Error("answerer called without credits")
	}
}

func TestRunQueryInferenceFailureRefunds(t *testing.T) {
	boom := errors.New("model overloaded")
	f := newFixture(t, 10, extractText("2+2=?"), answerErr(boom))
	ctx := context.Background()

	_, err := f.pipeline.RunQuery(ctx, photo)
	if !errors.Is(err, getanswer.ErrInferenceFailed) || !errors.Is(err, boom) {
		t.Fatalf("RunQuery() error = %v, want ErrInferenceFailed wrapping the cause", err)
	}
	perr := pipelineError(t, err)
	if !perr.Refunded || perr.TransactionID.IsNil() {
		t.Errorf("PipelineError = %+v, want a refunded charge", perr)
	}

	if got := f.ledger.Balance(ctx); got != 10 {
		t.Errorf("Balance() = %d, want 10", got)
	}
	txs := f.ledger.Transactions(ctx)
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	if txs[0].Kind != credit.KindDeduct || txs[0].Status != credit.StatusFailed {
		t.Errorf("deduct = %+v, want status failed", txs[0])
	}
	if txs[1].Kind != credit.KindRestore {
		t.Errorf("second record = %+v, want restore", txs[1])
	}
	if entries, _ := f.history.List(ctx); len(entries) != 0 {
		t.Error("failed run wrote history")
	}
	if !getanswer.IsRetryable(err) {
		t.Error("inference failure should be retryable")
	}
}

func TestRunQueryEmptyAnswerRefunds(t *testing.T) {
	f := newFixture(t, 10, extractText("2+2=?"), answerWith("   "))
	ctx := context.Background()

	_, err := f.pipeline.RunQuery(ctx, photo)
	if !errors.Is(err, getanswer.ErrInferenceFailed) {
		t.Fatalf("RunQuery() error = %v, want ErrInferenceFailed", err)
	}
	if got := f.ledger.Balance(ctx); got != 10 {
		t.Errorf("Balance() = %d, want 10", got)
	}
}

func TestRunQueryExtractionFailures(t *testing.T) {
	tests := []struct {
		name    string
		extract query.ExtractorFunc
		want    error
		kind    query.FailureKind
	}{
		{"no text", extractText(" \n\t"), getanswer.ErrNoTextDetected, query.FailureNoTextDetected},
		{
			"extractor error",
			func(context.Context, query.Image) (string, error) { return "", errors.New("vision: 503") },
			getanswer.ErrExtractionFailed,
			query.FailureExtractionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10, tt.extract, answerWith("4"))
			ctx := context.Background()

			_, err := f.pipeline.RunQuery(ctx, photo)
			if !errors.Is(err, tt.want) {
				t.Fatalf("RunQuery() error = %v, want %v", err, tt.want)
			}
			perr := pipelineError(t, err)
			if perr.Kind != tt.kind || perr.Phase != query.PhaseExtracting {
				t.Errorf("PipelineError = %+v", perr)
			}
			if n := len(f.ledger.Transactions(ctx)); n != 0 {
				t.Errorf("extraction failure touched the ledger: %d transactions", n)
			}
			if f.answers != 0 {
				t.Error("answerer called after extraction failed")
			}
		})
	}
}

func TestRunQueryLedgerUnavailable(t *testing.T) {
	f := newFixture(t, 10, extractText("2+2=?"), answerWith("4"))
	ctx := context.Background()
	f.ledger.Load(ctx)
	f.store.FailWrites(errDiskFull, store.KeyCredits)

	_, err := f.pipeline.RunQuery(ctx, photo)
	if !errors.Is(err, getanswer.ErrLedgerUnavailable) {
		t.Fatalf("RunQuery() error = %v, want ErrLedgerUnavailable", err)
	}
	if f.answers != 0 {
		t.Error("answerer called without a recorded charge")
	}
	if got := f.ledger.Balance(ctx); got != 10 {
		t.Errorf("Balance() = %d, want 10", got)
	}
}

func TestRunQueryCancellationRefunds(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	blocking := func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "late answer", nil
	}
	f := newFixture(t, 10, extractText("2+2=?"), blocking)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := f.pipeline.RunQuery(ctx, photo)
	if !errors.Is(err, getanswer.ErrInferenceFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("RunQuery() error = %v, want ErrInferenceFailed wrapping context.Canceled", err)
	}
	if !pipelineError(t, err).Refunded {
		t.Error("cancelled run was not refunded")
	}

	bg := context.Background()
	if got := f.ledger.Balance(bg); got != 10 {
		t.Errorf("Balance() = %d, want 10", got)
	}
	if entries, _ := f.history.List(bg); len(entries) != 0 {
		t.Error("cancelled run wrote history")
	}
}

func TestRunQueryPersistenceWarning(t *testing.T) {
	f := newFixture(t, 10, extractText("2+2=?"), answerWith("4"))
	ctx := context.Background()
	f.store.FailWrites(errDiskFull, store.KeyHistory)

	res, err := f.pipeline.RunQuery(ctx, photo)
	if err != nil {
		t.Fatalf("RunQuery() error: %v", err)
	}
	if res.Warning == nil || !errors.Is(res.Warning, getanswer.ErrStorageUnavailable) {
		t.Fatalf("Warning = %v, want a storage warning", res.Warning)
	}
	if res.Run.AnswerText != "4" {
		t.Errorf("AnswerText = %q, want 4", res.Run.AnswerText)
	}
	if got := f.ledger.Balance(ctx); got != 8 {
		t.Errorf("Balance() = %d, want 8 (no refund after a produced answer)", got)
	}
}

func TestRunQueryOrphanedRefund(t *testing.T) {
	var f *fixture
	failing := func(context.Context, string) (string, error) {
		f.store.FailWrites(errDiskFull)
		return "", errors.New("model overloaded")
	}
	f = newFixture(t, 10, extractText("2+2=?"), failing)
	ctx := context.Background()

	_, err := f.pipeline.RunQuery(ctx, photo)
	perr := pipelineError(t, err)
	if perr.Refunded {
		t.Fatal("refund reported despite storage failure")
	}

	orphans := f.pipeline.InFlight()
	if len(orphans) != 1 || !orphans[0].Orphaned() {
		t.Fatalf("InFlight() = %+v, want one orphaned charge", orphans)
	}
	if got := f.ledger.Balance(ctx); got != 8 {
		t.Errorf("Balance() = %d, want 8 before settlement", got)
	}

	f.store.FailWrites(nil)
	n, err := f.pipeline.SettleOrphans(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SettleOrphans() = %d, %v; want 1, nil", n, err)
	}
	if got := f.ledger.Balance(ctx); got != 10 {
		t.Errorf("Balance() = %d, want 10 after settlement", got)
	}
	if len(f.pipeline.InFlight()) != 0 {
		t.Error("settled charge still in flight")
	}
}

func TestRunQueryRefundOfEvictedChargeIsLogged(t *testing.T) {
	s := memory.New()
	ledger := getanswer.NewLedger(s, getanswer.WithMaxTransactions(1))
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	// A concurrent grant pushes the run's deduct out of the retained log.
	evicting := query.AnswererFunc(func(ctx context.Context, _ string) (string, error) {
		if _, err := ledger.Add(ctx, 5, "bonus"); err != nil {
			return "", err
		}
		return "", errors.New("model overloaded")
	})
	p := getanswer.NewPipeline(ledger, getanswer.NewHistory(s), extractText("2+2=?"), evicting,
		getanswer.WithPipelineLogger(logger))

	_, err := p.RunQuery(context.Background(), photo)
	if perr := pipelineError(t, err); perr.Refunded {
		t.Fatal("evicted charge reported as refunded")
	}
	if len(p.InFlight()) != 0 {
		t.Error("evicted charge left in flight")
	}
	if !strings.Contains(logs.String(), "charge no longer restorable") {
		t.Errorf("eviction not logged:\n%s", logs.String())
	}
}

func TestRunQueryExtractionMetering(t *testing.T) {
	t.Run("charged on success", func(t *testing.T) {
		f := newFixture(t, 10, extractText("2+2=?"), answerWith("4"), getanswer.WithExtractionMetering(true))
		ctx := context.Background()

		res, err := f.pipeline.RunQuery(ctx, photo)
		if err != nil {
			t.Fatal(err)
		}
		if res.Balance != 7 {
			t.Errorf("balance = %d, want 7", res.Balance)
		}
		if res.Run.ExtractionTransactionID.IsNil() {
			t.Error("extraction charge not recorded on the run")
		}
	})

	t.Run("refunded without text", func(t *testing.T) {
		f := newFixture(t, 10, extractText(""), answerWith("4"), getanswer.WithExtractionMetering(true))
		ctx := context.Background()

		_, err := f.pipeline.RunQuery(ctx, photo)
		if !errors.Is(err, getanswer.ErrNoTextDetected) {
			t.Fatalf("RunQuery() error = %v", err)
		}
		if !pipelineError(t, err).Refunded {
			t.Error("extraction charge not refunded")
		}
		if got := f.ledger.Balance(ctx); got != 10 {
			t.Errorf("Balance() = %d, want 10", got)
		}
		if err := f.ledger.Verify(ctx); err != nil {
			t.Error(err)
		}
	})
}

func TestAsk(t *testing.T) {
	f := newFixture(t, 10, nil, answerWith("Paris"))
	ctx := context.Background()

	res, err := f.pipeline.Ask(ctx, "Capital of France?", nil)
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if res.Balance != 8 || res.Entry.ImageRef != nil || res.Entry.ExtractedText != "Capital of France?" {
		t.Errorf("Result = %+v", res)
	}

	if _, err := f.pipeline.Ask(ctx, "  ", nil); !errors.Is(err, getanswer.ErrInvalidInput) {
		t.Errorf("Ask(blank) error = %v, want ErrInvalidInput", err)
	}
	if got := f.ledger.Balance(ctx); got != 8 {
		t.Errorf("Balance() = %d, want 8", got)
	}
}

func TestPipelineShutdown(t *testing.T) {
	f := newFixture(t, 10, extractText("2+2=?"), answerWith("4"))
	ctx := context.Background()

	if err := f.pipeline.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if _, err := f.pipeline.RunQuery(ctx, photo); !errors.Is(err, getanswer.ErrPipelineClosed) {
		t.Errorf("RunQuery() after shutdown error = %v, want ErrPipelineClosed", err)
	}
}

func TestRunQueryTracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	f := newFixture(t, 1, extractText("2+2=?"), answerWith("4"),
		getanswer.WithTracer(tp.Tracer("test")))

	_, _ = f.pipeline.RunQuery(context.Background(), photo)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "getanswer.query" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Description != string(query.FailureInsufficientCredits) {
		t.Errorf("span status = %+v", spans[0].Status())
	}
}
