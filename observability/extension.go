// Package observability provides a metrics extension for getanswer that
// records credit and query event counts via a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/plugin"
	"github.com/xraph/getanswer/query"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnCreditsDeducted     = (*MetricsExtension)(nil)
	_ plugin.OnCreditsAdded        = (*MetricsExtension)(nil)
	_ plugin.OnCreditsRestored     = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits = (*MetricsExtension)(nil)
	_ plugin.OnLedgerUnavailable   = (*MetricsExtension)(nil)
	_ plugin.OnQueryCompleted      = (*MetricsExtension)(nil)
	_ plugin.OnQueryFailed         = (*MetricsExtension)(nil)
	_ plugin.OnPersistenceWarning  = (*MetricsExtension)(nil)
	_ plugin.OnHistoryAppended     = (*MetricsExtension)(nil)
	_ plugin.OnHistoryCleared      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// Gauge interface for metric gauges.
type Gauge interface {
	Set(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// MetricsExtension records credit and query metrics.
// Register it as a plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Credit metrics
	CreditsDeducted     Counter
	CreditsAdded        Counter
	CreditsRestored     Counter
	InsufficientCredits Counter
	Balance             Gauge

	// Query metrics
	QueriesCompleted Counter
	QueriesFailed    Counter
	QueryLatency     Histogram

	// Failure breakdown
	ExtractionFailures Counter
	NoTextDetected     Counter
	InferenceFailures  Counter

	// History metrics
	HistoryAppended Counter
	HistoryCleared  Counter

	// Error metrics
	LedgerErrors        Counter
	PersistenceWarnings Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		CreditsDeducted:     factory.Counter("getanswer.credits.deducted"),
		CreditsAdded:        factory.Counter("getanswer.credits.added"),
		CreditsRestored:     factory.Counter("getanswer.credits.restored"),
		InsufficientCredits: factory.Counter("getanswer.credits.insufficient"),
		Balance:             factory.Gauge("getanswer.credits.balance"),

		QueriesCompleted: factory.Counter("getanswer.query.completed"),
		QueriesFailed:    factory.Counter("getanswer.query.failed"),
		QueryLatency:     factory.Histogram("getanswer.query.latency_ms"),

		ExtractionFailures: factory.Counter("getanswer.query.extraction_failed"),
		NoTextDetected:     factory.Counter("getanswer.query.no_text_detected"),
		InferenceFailures:  factory.Counter("getanswer.query.inference_failed"),

		HistoryAppended: factory.Counter("getanswer.history.appended"),
		HistoryCleared:  factory.Counter("getanswer.history.cleared"),

		LedgerErrors:        factory.Counter("getanswer.ledger.errors"),
		PersistenceWarnings: factory.Counter("getanswer.history.persistence_warnings"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(ctx context.Context, service interface{}) error {
	if e, ok := service.(*getanswer.Engine); ok {
		m.Balance.Set(float64(e.Ledger().Balance(ctx)))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsDeducted implements plugin.OnCreditsDeducted.
func (m *MetricsExtension) OnCreditsDeducted(_ context.Context, tx credit.Transaction, balance int64) error {
	m.CreditsDeducted.Add(float64(tx.Amount))
	m.Balance.Set(float64(balance))
	return nil
}

// OnCreditsAdded implements plugin.OnCreditsAdded.
func (m *MetricsExtension) OnCreditsAdded(_ context.Context, tx credit.Transaction, balance int64) error {
	m.CreditsAdded.Add(float64(tx.Amount))
	m.Balance.Set(float64(balance))
	return nil
}

// OnCreditsRestored implements plugin.OnCreditsRestored.
func (m *MetricsExtension) OnCreditsRestored(_ context.Context, _, restore credit.Transaction, balance int64) error {
	m.CreditsRestored.Add(float64(restore.Amount))
	m.Balance.Set(float64(balance))
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _, _ int64) error {
	m.InsufficientCredits.Inc()
	return nil
}

// OnLedgerUnavailable implements plugin.OnLedgerUnavailable.
func (m *MetricsExtension) OnLedgerUnavailable(_ context.Context, _ string, _ error) error {
	m.LedgerErrors.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Query hooks
// ──────────────────────────────────────────────────

// OnQueryCompleted implements plugin.OnQueryCompleted.
func (m *MetricsExtension) OnQueryCompleted(_ context.Context, run *query.Run, _ history.Entry) error {
	m.QueriesCompleted.Inc()
	m.QueryLatency.Observe(float64(time.Since(run.StartedAt).Milliseconds()))
	return nil
}

// OnQueryFailed implements plugin.OnQueryFailed.
func (m *MetricsExtension) OnQueryFailed(_ context.Context, run *query.Run, err error) error {
	m.QueriesFailed.Inc()

	kind := run.Failure
	var perr *getanswer.PipelineError
	if errors.As(err, &perr) {
		kind = perr.Kind
	}

	switch kind {
	case query.FailureExtractionFailed:
		m.ExtractionFailures.Inc()
	case query.FailureNoTextDetected:
		m.NoTextDetected.Inc()
	case query.FailureInferenceFailed:
		m.InferenceFailures.Inc()
	}
	return nil
}

// OnPersistenceWarning implements plugin.OnPersistenceWarning.
func (m *MetricsExtension) OnPersistenceWarning(_ context.Context, _ *query.Run, _ error) error {
	m.PersistenceWarnings.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// History hooks
// ──────────────────────────────────────────────────

// OnHistoryAppended implements plugin.OnHistoryAppended.
func (m *MetricsExtension) OnHistoryAppended(_ context.Context, _ history.Entry) error {
	m.HistoryAppended.Inc()
	return nil
}

// OnHistoryCleared implements plugin.OnHistoryCleared.
func (m *MetricsExtension) OnHistoryCleared(_ context.Context) error {
	m.HistoryCleared.Inc()
	return nil
}
