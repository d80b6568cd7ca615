// Package query defines the query pipeline's state machine, its run record,
// and the capability interfaces for the external text extraction and
// inference services.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/getanswer/id"
)

// Image is an opaque handle to a captured image. Ref is whatever the
// capture layer uses to find the image again (a URI or path) and is copied
// into history. Data holds the encoded bytes passed to the extractor.
type Image struct {
	Ref      string
	Data     []byte
	MIMEType string
}

// Extractor turns an image into text. An empty result means no text was found.
type Extractor interface {
	ExtractText(ctx context.Context, img Image) (string, error)
}

// Answerer produces an answer for extracted question text.
type Answerer interface {
	Answer(ctx context.Context, text string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, img Image) (string, error)

// ExtractText implements Extractor.
func (f ExtractorFunc) ExtractText(ctx context.Context, img Image) (string, error) {
	return f(ctx, img)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, text string) (string, error)

// Answer implements Answerer.
func (f AnswererFunc) Answer(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Phase is a pipeline run state.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseExtracting            Phase = "extracting"
	PhaseAwaitingAuthorization Phase = "awaiting_authorization"
	PhaseInferring             Phase = "inferring"
	PhasePersisting            Phase = "persisting"
	PhaseDone                  Phase = "done"
	PhaseFailed                Phase = "failed"
)

// Terminal reports whether no further transition is possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

var transitions = map[Phase][]Phase{
	// Idle can skip extraction when the caller already has the text.
	PhaseIdle:                  {PhaseExtracting, PhaseAwaitingAuthorization},
	PhaseExtracting:            {PhaseAwaitingAuthorization, PhaseFailed},
	PhaseAwaitingAuthorization: {PhaseInferring, PhaseFailed},
	PhaseInferring:             {PhasePersisting, PhaseFailed},
	PhasePersisting:            {PhaseDone, PhaseFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FailureKind classifies a failed run.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureExtractionFailed    FailureKind = "extraction_failed"
	FailureNoTextDetected      FailureKind = "no_text_detected"
	FailureInsufficientCredits FailureKind = "insufficient_credits"
	FailureInferenceFailed     FailureKind = "inference_failed"
	FailureLedgerUnavailable   FailureKind = "ledger_unavailable"
)

// Run is the transient record of one pipeline execution. It is owned by a
// single call and never shared.
type Run struct {
	ID                      id.RunID         `json:"id"`
	Image                   *Image           `json:"-"`
	ExtractedText           string           `json:"extracted_text,omitempty"`
	AnswerText              string           `json:"answer_text,omitempty"`
	ChargedTransactionID    id.TransactionID `json:"charged_transaction_id"`
	ExtractionTransactionID id.TransactionID `json:"extraction_transaction_id"`
	Phase                   Phase            `json:"phase"`
	Failure                 FailureKind      `json:"failure,omitempty"`
	StartedAt               time.Time        `json:"started_at"`
}

// NewRun starts a run in PhaseIdle.
func NewRun(img *Image, now time.Time) *Run {
	return &Run{
		ID:        id.NewRunID(),
		Image:     img,
		Phase:     PhaseIdle,
		StartedAt: now,
	}
}

// Advance moves the run to next, rejecting transitions the state machine
// does not allow.
func (r *Run) Advance(next Phase) error {
	if !CanTransition(r.Phase, next) {
		return fmt.Errorf("query: invalid transition %s -> %s", r.Phase, next)
	}
	r.Phase = next
	return nil
}

// Fail moves the run to PhaseFailed with the given kind.
func (r *Run) Fail(kind FailureKind) error {
	if err := r.Advance(PhaseFailed); err != nil {
		return err
	}
	r.Failure = kind
	return nil
}
