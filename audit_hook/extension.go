// Package audithook bridges credit and query events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter, or use
// NewLogRecorder to write events as structured log lines.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/credit"
	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/plugin"
	"github.com/xraph/getanswer/query"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnCreditsDeducted     = (*Extension)(nil)
	_ plugin.OnCreditsAdded        = (*Extension)(nil)
	_ plugin.OnCreditsRestored     = (*Extension)(nil)
	_ plugin.OnInsufficientCredits = (*Extension)(nil)
	_ plugin.OnLedgerUnavailable   = (*Extension)(nil)
	_ plugin.OnQueryCompleted      = (*Extension)(nil)
	_ plugin.OnQueryFailed         = (*Extension)(nil)
	_ plugin.OnPersistenceWarning  = (*Extension)(nil)
	_ plugin.OnHistoryCleared      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail record.
type AuditEvent struct {
	ID         string         `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// NewLogRecorder returns a Recorder that writes each event to logger at
// Info level under the "audit" message.
func NewLogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"event_id", evt.ID,
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"outcome", evt.Outcome,
			"severity", evt.Severity,
			"metadata", evt.Metadata,
		)
		return nil
	})
}

// Extension bridges credit and query events to an audit trail backend.
type Extension struct {
	recorder    Recorder
	enabled     map[string]bool // nil = all enabled
	includeText bool
	logger      *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsDeducted implements plugin.OnCreditsDeducted.
func (e *Extension) OnCreditsDeducted(ctx context.Context, tx credit.Transaction, balance int64) error {
	return e.record(ctx, ActionCreditsDeducted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, tx.ID.String(), CategoryCredits, nil,
		"amount", tx.Amount,
		"reason", tx.Reason,
		"balance", balance,
	)
}

// OnCreditsAdded implements plugin.OnCreditsAdded.
func (e *Extension) OnCreditsAdded(ctx context.Context, tx credit.Transaction, balance int64) error {
	return e.record(ctx, ActionCreditsAdded, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, tx.ID.String(), CategoryCredits, nil,
		"amount", tx.Amount,
		"reason", tx.Reason,
		"balance", balance,
	)
}

// OnCreditsRestored implements plugin.OnCreditsRestored.
func (e *Extension) OnCreditsRestored(ctx context.Context, original, restore credit.Transaction, balance int64) error {
	return e.record(ctx, ActionCreditsRestored, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, original.ID.String(), CategoryCredits, nil,
		"restore_id", restore.ID.String(),
		"amount", restore.Amount,
		"balance", balance,
	)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, requested, balance int64) error {
	return e.record(ctx, ActionInsufficientCredits, SeverityWarning, OutcomeFailure,
		ResourceLedger, "", CategoryCredits, getanswer.ErrInsufficientCredits,
		"requested", requested,
		"balance", balance,
	)
}

// OnLedgerUnavailable implements plugin.OnLedgerUnavailable.
func (e *Extension) OnLedgerUnavailable(ctx context.Context, op string, err error) error {
	return e.record(ctx, ActionLedgerUnavailable, SeverityCritical, OutcomeFailure,
		ResourceLedger, "", CategoryCredits, err,
		"op", op,
	)
}

// ──────────────────────────────────────────────────
// Query hooks
// ──────────────────────────────────────────────────

// OnQueryCompleted implements plugin.OnQueryCompleted.
func (e *Extension) OnQueryCompleted(ctx context.Context, run *query.Run, entry history.Entry) error {
	kv := []any{
		"entry_id", entry.ID.String(),
		"transaction_id", run.ChargedTransactionID.String(),
	}
	if e.includeText {
		kv = append(kv, "question", run.ExtractedText, "answer", run.AnswerText)
	}
	return e.record(ctx, ActionQueryCompleted, SeverityInfo, OutcomeSuccess,
		ResourceQuery, run.ID.String(), CategoryQuery, nil,
		kv...,
	)
}

// OnQueryFailed implements plugin.OnQueryFailed.
func (e *Extension) OnQueryFailed(ctx context.Context, run *query.Run, err error) error {
	severity := SeverityWarning
	kv := []any{"kind", string(run.Failure)}

	var perr *getanswer.PipelineError
	if errors.As(err, &perr) {
		kv = append(kv, "phase", string(perr.Phase), "refunded", perr.Refunded)
		// A charge that could not be refunded needs attention.
		if !perr.TransactionID.IsNil() && !perr.Refunded {
			severity = SeverityError
		}
	}

	return e.record(ctx, ActionQueryFailed, severity, OutcomeFailure,
		ResourceQuery, run.ID.String(), CategoryQuery, err,
		kv...,
	)
}

// OnPersistenceWarning implements plugin.OnPersistenceWarning.
func (e *Extension) OnPersistenceWarning(ctx context.Context, run *query.Run, err error) error {
	return e.record(ctx, ActionPersistenceWarning, SeverityWarning, OutcomePartial,
		ResourceQuery, run.ID.String(), CategoryData, err,
	)
}

// ──────────────────────────────────────────────────
// History hooks
// ──────────────────────────────────────────────────

// OnHistoryCleared implements plugin.OnHistoryCleared.
func (e *Extension) OnHistoryCleared(ctx context.Context) error {
	return e.record(ctx, ActionHistoryCleared, SeverityInfo, OutcomeSuccess,
		ResourceHistory, "", CategoryData, nil,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		ID:         uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}

	return nil
}
