package getanswer

import (
	"errors"
	"fmt"

	"github.com/xraph/getanswer/id"
	"github.com/xraph/getanswer/query"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("getanswer: not found")
	ErrInvalidInput = errors.New("getanswer: invalid input")

	// Ledger errors
	ErrInsufficientCredits = errors.New("getanswer: insufficient credits")
	ErrInvalidAmount       = errors.New("getanswer: amount must be positive")
	ErrInvalidTransaction  = errors.New("getanswer: invalid transaction")
	ErrLedgerUnavailable   = errors.New("getanswer: ledger storage unavailable")
	ErrLedgerDiverged      = errors.New("getanswer: balance does not match transaction log")
	ErrGrantNotFound       = errors.New("getanswer: grant not found")

	// Pipeline errors
	ErrExtractionFailed = errors.New("getanswer: text extraction failed")
	ErrNoTextDetected   = errors.New("getanswer: no text detected")
	ErrInferenceFailed  = errors.New("getanswer: inference failed")
	ErrPipelineClosed   = errors.New("getanswer: pipeline is shut down")
	ErrRunsActive       = errors.New("getanswer: runs still active at shutdown")

	// Store errors
	ErrStorageUnavailable = errors.New("getanswer: storage unavailable")
	ErrStoreClosed        = errors.New("getanswer: store is closed")
)

// PipelineError is returned by every failed pipeline run. It matches both
// the sentinel for its Kind and the underlying cause under errors.Is.
type PipelineError struct {
	Kind  query.FailureKind
	Phase query.Phase // phase the run was in when it failed
	RunID id.RunID

	// TransactionID is the inference charge, if one was made.
	TransactionID id.TransactionID

	// Refunded reports whether the charge was restored. A charged run whose
	// refund could not be persisted stays in the pipeline's in-flight set.
	Refunded bool

	Err error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("getanswer: query %s failed during %s: %s", e.RunID, e.Phase, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the kind sentinel and the cause.
func (e *PipelineError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := KindError(e.Kind); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindError maps a failure kind to its sentinel error.
func KindError(kind query.FailureKind) error {
	switch kind {
	case query.FailureExtractionFailed:
		return ErrExtractionFailed
	case query.FailureNoTextDetected:
		return ErrNoTextDetected
	case query.FailureInsufficientCredits:
		return ErrInsufficientCredits
	case query.FailureInferenceFailed:
		return ErrInferenceFailed
	case query.FailureLedgerUnavailable:
		return ErrLedgerUnavailable
	}
	return nil
}

// PersistenceWarning reports that a completed answer could not be written
// to history. The answer is still valid and the charge stands.
type PersistenceWarning struct {
	EntryID id.HistoryID
	Err     error
}

func (w *PersistenceWarning) Error() string {
	return fmt.Sprintf("getanswer: answer not saved to history: %v", w.Err)
}

func (w *PersistenceWarning) Unwrap() error { return w.Err }

// IsUserRecoverable returns true for failures the user resolves without a
// retry of the same input: out of credits, or nothing legible in the image.
func IsUserRecoverable(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrNoTextDetected)
}

// IsRetryable returns true if the failure is transient and the same query
// can be submitted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExtractionFailed) ||
		errors.Is(err, ErrInferenceFailed) ||
		errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrStorageUnavailable)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrGrantNotFound)
}
