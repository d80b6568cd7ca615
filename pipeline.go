package getanswer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/id"
	"github.com/xraph/getanswer/plugin"
	"github.com/xraph/getanswer/query"
)

const tracerName = "github.com/xraph/getanswer"

// Result is the outcome of a successful pipeline run.
type Result struct {
	Run     *query.Run    `json:"run"`
	Entry   history.Entry `json:"entry"`
	Balance int64         `json:"balance"`

	// Warning is set when the answer could not be saved to history.
	Warning *PersistenceWarning `json:"-"`
}

// Charge is a deduct made by a run that has not yet been settled, either
// by the run completing or by a successful refund.
type Charge struct {
	RunID         id.RunID         `json:"run_id"`
	TransactionID id.TransactionID `json:"transaction_id"`
	Amount        int64            `json:"amount"`
	Reason        string           `json:"reason"`
	ChargedAt     time.Time        `json:"charged_at"`

	// RefundErr is the last refund failure. Orphaned charges have one.
	RefundErr error `json:"-"`
}

// Orphaned reports whether the charge is waiting on a refund retry.
func (c Charge) Orphaned() bool { return c.RefundErr != nil }

// Pipeline runs photographed questions through extraction, credit
// authorization, inference and history persistence.
type Pipeline struct {
	ledger    *Ledger
	history   *History
	extractor query.Extractor
	answerer  query.Answerer

	plugins *plugin.Registry
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	inferenceCost   int64
	extractionCost  int64
	meterExtraction bool

	mu       sync.Mutex
	closed   bool
	running  sync.WaitGroup
	inflight map[string]*Charge
}

// NewPipeline wires a pipeline. extractor and answerer may be nil, in which
// case the corresponding operations fail.
func NewPipeline(l *Ledger, h *History, extractor query.Extractor, answerer query.Answerer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		ledger:         l,
		history:        h,
		extractor:      extractor,
		answerer:       answerer,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		inferenceCost:  credit.InferenceCost,
		extractionCost: credit.ExtractionCost,
		inflight:       make(map[string]*Charge),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithPipelinePlugins shares a plugin registry with the pipeline.
func WithPipelinePlugins(r *plugin.Registry) PipelineOption {
	return func(p *Pipeline) { p.plugins = r }
}

// WithInferenceCost sets the credits charged per inference.
func WithInferenceCost(n int64) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.inferenceCost = n
		}
	}
}

// WithExtractionCost sets the credits charged per extraction when
// extraction metering is enabled.
func WithExtractionCost(n int64) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.extractionCost = n
		}
	}
}

// WithExtractionMetering charges for text extraction as well as inference.
func WithExtractionMetering(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.meterExtraction = enabled }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithPipelineClock overrides the clock used for run and charge timestamps.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// RunQuery extracts the question in img, charges for and performs the
// inference, and saves the answer to history. Every failure is a
// *PipelineError; a charge taken by a failed run is refunded.
func (p *Pipeline) RunQuery(ctx context.Context, img query.Image) (*Result, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.running.Done()

	run := query.NewRun(&img, p.now().UTC())
	ctx, span := p.startSpan(ctx, run, "image")
	defer span.End()

	p.advance(span, run, query.PhaseExtracting)

	if p.meterExtraction {
		txID, err := p.ledger.Deduct(ctx, p.extractionCost, credit.ReasonExtraction)
		if err != nil {
			return p.fail(ctx, span, run, authorizationFailure(err), err, false)
		}
		run.ExtractionTransactionID = txID
		p.track(run, txID, p.extractionCost, credit.ReasonExtraction)
		span.SetAttributes(attribute.Int64("credits.extraction", p.extractionCost))
	}

	text, err := p.extract(ctx, img)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrNoTextDetected
	}
	if err != nil {
		kind := query.FailureExtractionFailed
		if errors.Is(err, ErrNoTextDetected) {
			kind = query.FailureNoTextDetected
			err = nil
		}
		refunded := false
		if !run.ExtractionTransactionID.IsNil() {
			refunded = p.refund(ctx, run, run.ExtractionTransactionID)
		}
		return p.fail(ctx, span, run, kind, err, refunded)
	}

	if !run.ExtractionTransactionID.IsNil() {
		p.settle(run.ExtractionTransactionID)
	}

	run.ExtractedText = text
	span.SetAttributes(attribute.Int("query.text_length", len(text)))

	return p.answer(ctx, span, run)
}

// Ask skips extraction and answers text directly, under the same charging
// and persistence rules as RunQuery.
func (p *Pipeline) Ask(ctx context.Context, text string, imageRef *string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: question text is empty", ErrInvalidInput)
	}
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.running.Done()

	var img *query.Image
	if imageRef != nil {
		img = &query.Image{Ref: *imageRef}
	}

	run := query.NewRun(img, p.now().UTC())
	run.ExtractedText = text
	ctx, span := p.startSpan(ctx, run, "text")
	defer span.End()

	return p.answer(ctx, span, run)
}

func (p *Pipeline) answer(ctx context.Context, span trace.Span, run *query.Run) (*Result, error) {
	p.advance(span, run, query.PhaseAwaitingAuthorization)

	txID, err := p.ledger.Deduct(ctx, p.inferenceCost, credit.ReasonInference)
	if err != nil {
		return p.fail(ctx, span, run, authorizationFailure(err), err, false)
	}
	run.ChargedTransactionID = txID
	p.track(run, txID, p.inferenceCost, credit.ReasonInference)
	span.SetAttributes(
		attribute.String("credits.transaction_id", txID.String()),
		attribute.Int64("credits.charged", p.inferenceCost),
	)

	p.advance(span, run, query.PhaseInferring)

	answer, err := p.infer(ctx, run.ExtractedText)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		refunded := p.refund(ctx, run, txID)
		return p.fail(ctx, span, run, query.FailureInferenceFailed, err, refunded)
	}
	p.settle(txID)
	run.AnswerText = answer

	p.advance(span, run, query.PhasePersisting)

	// The answer is paid for; persist it even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	entry := history.Entry{
		ExtractedText: run.ExtractedText,
		AnswerText:    answer,
	}
	if run.Image != nil && run.Image.Ref != "" {
		ref := run.Image.Ref
		entry.ImageRef = &ref
	}

	entry, herr := p.history.Append(persistCtx, entry)

	result := &Result{
		Run:     run,
		Entry:   entry,
		Balance: p.ledger.Balance(persistCtx),
	}

	if herr != nil {
		result.Warning = &PersistenceWarning{EntryID: entry.ID, Err: herr}
		span.AddEvent("persistence_warning", trace.WithAttributes(attribute.String("error", herr.Error())))
		p.logger.Warn("answer not saved to history",
			"run_id", run.ID.String(),
			"entry_id", entry.ID.String(),
			"error", herr,
		)
		p.plugins.EmitPersistenceWarning(persistCtx, run, herr)
	}

	p.advance(span, run, query.PhaseDone)
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int64("credits.balance", result.Balance))

	p.logger.Debug("query completed",
		"run_id", run.ID.String(),
		"entry_id", entry.ID.String(),
		"balance", result.Balance,
	)
	p.plugins.EmitQueryCompleted(persistCtx, run, entry)

	return result, nil
}

func (p *Pipeline) extract(ctx context.Context, img query.Image) (string, error) {
	if p.extractor == nil {
		return "", errors.New("no text extractor configured")
	}
	return p.extractor.ExtractText(ctx, img)
}

// infer calls the answerer on its own goroutine so a cancelled ctx ends the
// run immediately. A late answer is discarded.
func (p *Pipeline) infer(ctx context.Context, text string) (string, error) {
	if p.answerer == nil {
		return "", errors.New("no answerer configured")
	}

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)

	go func() {
		s, err := p.answerer.Answer(ctx, text)
		ch <- reply{s, err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, run *query.Run, kind query.FailureKind, cause error, refunded bool) (*Result, error) {
	phase := run.Phase
	if err := run.Fail(kind); err != nil {
		p.logger.Error("pipeline: invalid failure transition", "run_id", run.ID.String(), "error", err)
	}

	perr := &PipelineError{
		Kind:          kind,
		Phase:         phase,
		RunID:         run.ID,
		TransactionID: run.ChargedTransactionID,
		Refunded:      refunded,
		Err:           cause,
	}

	span.RecordError(perr)
	span.SetStatus(codes.Error, string(kind))
	span.SetAttributes(
		attribute.String("query.failure", string(kind)),
		attribute.Bool("credits.refunded", refunded),
	)

	level := slog.LevelWarn
	if IsUserRecoverable(perr) {
		level = slog.LevelInfo
	}
	p.logger.Log(ctx, level, "query failed",
		"run_id", run.ID.String(),
		"phase", string(phase),
		"kind", string(kind),
		"refunded", refunded,
		"error", cause,
	)

	p.plugins.EmitQueryFailed(context.WithoutCancel(ctx), run, perr)
	return nil, perr
}

func authorizationFailure(err error) query.FailureKind {
	if errors.Is(err, ErrInsufficientCredits) {
		return query.FailureInsufficientCredits
	}
	return query.FailureLedgerUnavailable
}

// ──────────────────────────────────────────────────
// In-flight charges
// ──────────────────────────────────────────────────

func (p *Pipeline) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	p.running.Add(1)
	return nil
}

func (p *Pipeline) track(run *query.Run, txID id.TransactionID, amount int64, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inflight[txID.String()] = &Charge{
		RunID:         run.ID,
		TransactionID: txID,
		Amount:        amount,
		Reason:        reason,
		ChargedAt:     p.now().UTC(),
	}
}

func (p *Pipeline) settle(txID id.TransactionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inflight, txID.String())
}

// refund restores txID. The restore runs without the caller's
// cancellation. A charge whose restore fails stays in flight for
// SettleOrphans.
func (p *Pipeline) refund(ctx context.Context, run *query.Run, txID id.TransactionID) bool {
	err := p.ledger.Restore(context.WithoutCancel(ctx), txID)
	if err == nil {
		p.settle(txID)
		return true
	}
	if errors.Is(err, ErrInvalidTransaction) {
		// Already restored, or evicted from the retained log mid-run.
		p.logger.Warn("refund skipped, charge no longer restorable",
			"run_id", run.ID.String(),
			"tx_id", txID.String(),
			"error", err,
		)
		p.settle(txID)
		return false
	}

	p.logger.Error("refund failed, charge kept in flight",
		"run_id", run.ID.String(),
		"tx_id", txID.String(),
		"error", err,
	)

	p.mu.Lock()
	if c, ok := p.inflight[txID.String()]; ok {
		c.RefundErr = err
	}
	p.mu.Unlock()
	return false
}

// InFlight returns the charges not yet settled, oldest first.
func (p *Pipeline) InFlight() []Charge {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Charge, 0, len(p.inflight))
	for _, c := range p.inflight {
		out = append(out, *c)
	}
	sortCharges(out)
	return out
}

func sortCharges(cs []Charge) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ChargedAt.Before(cs[j].ChargedAt) })
}

// SettleOrphans retries the refund of every charge whose earlier refund
// failed. It returns the number settled and the first error encountered.
func (p *Pipeline) SettleOrphans(ctx context.Context) (int, error) {
	var firstErr error
	settled := 0

	for _, c := range p.InFlight() {
		if !c.Orphaned() {
			continue
		}

		err := p.ledger.Restore(ctx, c.TransactionID)
		if err != nil && !errors.Is(err, ErrInvalidTransaction) {
			p.mu.Lock()
			if live, ok := p.inflight[c.TransactionID.String()]; ok {
				live.RefundErr = err
			}
			p.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		p.settle(c.TransactionID)
		settled++
		p.logger.Info("orphaned charge settled",
			"run_id", c.RunID.String(),
			"tx_id", c.TransactionID.String(),
			"amount", c.Amount,
		)
	}

	return settled, firstErr
}

// Shutdown stops accepting runs, waits for active runs to finish or ctx to
// end, then settles orphaned charges. It returns ErrRunsActive when ctx
// ends first; those runs still refund on their own once they return.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	select {
	case <-p.drained():
	case <-ctx.Done():
		charges := p.InFlight()
		p.logger.Warn("pipeline shutdown: runs still active",
			"in_flight", len(charges),
			"error", ctx.Err(),
		)
		_, err := p.SettleOrphans(context.WithoutCancel(ctx))
		return errors.Join(
			fmt.Errorf("%w: %d charges in flight: %w", ErrRunsActive, len(charges), ctx.Err()),
			err,
		)
	}

	_, err := p.SettleOrphans(context.WithoutCancel(ctx))
	return err
}

// drained is closed once no run is active.
func (p *Pipeline) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	return done
}

// ──────────────────────────────────────────────────
// Tracing
// ──────────────────────────────────────────────────

func (p *Pipeline) startSpan(ctx context.Context, run *query.Run, source string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "getanswer.query",
		trace.WithAttributes(
			attribute.String("query.run_id", run.ID.String()),
			attribute.String("query.source", source),
		),
	)
}

func (p *Pipeline) advance(span trace.Span, run *query.Run, next query.Phase) {
	if err := run.Advance(next); err != nil {
		p.logger.Error("pipeline: invalid transition", "run_id", run.ID.String(), "error", err)
		return
	}
	span.AddEvent("phase", trace.WithAttributes(attribute.String("query.phase", string(next))))
}
