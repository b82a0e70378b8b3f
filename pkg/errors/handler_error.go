// Package errors defines the Transient/Permanent handler-error
// taxonomy that the worker and batch-worker runtimes use to decide
// ack/reject/requeue. Handlers never talk to an acker
// directly; they return a *HandlerError and the runtime is the only
// place that turns a Kind into a queue decision.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a HandlerError taxonomy.
type Kind int

const (
	// KindDeserialization: malformed queue payload. Always permanent.
	KindDeserialization Kind = iota
	// KindValidation: schema violation on a span or event. Permanent.
	KindValidation
	// KindUpstreamUnavailable: store/broker/LLM-provider network or 5xx. Transient.
	KindUpstreamUnavailable
	// KindUpstreamUnauthorized: 4xx/auth failure from an upstream. Permanent.
	KindUpstreamUnauthorized
	// KindBatchFatal: LLM batch reached Failed/Cancelled/Expired. Permanent.
	KindBatchFatal
	// KindRecursionBound: signal run exceeded MAX_STEPS. Permanent for that run.
	KindRecursionBound
	// KindPartialResponseMissing: a submitted run's response is absent
	// on an otherwise-succeeded batch. Permanent for that run only; the
	// batch message as a whole still acks.
	KindPartialResponseMissing
)

func (k Kind) String() string {
	switch k {
	case KindDeserialization:
		return "deserialization"
	case KindValidation:
		return "validation"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamUnauthorized:
		return "upstream_unauthorized"
	case KindBatchFatal:
		return "batch_fatal"
	case KindRecursionBound:
		return "recursion_bound"
	case KindPartialResponseMissing:
		return "partial_response_missing"
	default:
		return "unknown"
	}
}

// HandlerError is the only error type a MessageHandler or
// BatchMessageHandler returns. The runtime maps it to ack (nil),
// reject without requeue (Permanent kinds), or reject with requeue
// (Transient kinds).
type HandlerError struct {
	Kind      Kind
	Requeue   bool
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ShouldRequeue reports whether the worker runtime should reject this
// message with requeue=true (transient) or requeue=false (permanent).
func (e *HandlerError) ShouldRequeue() bool {
	return e.Requeue
}

// Transient wraps err as a retryable failure: columnar/relational
// store, cache, broker, or LLM-provider/data-plane network and 5xx
// errors. The worker rejects with requeue=true.
func Transient(kind Kind, err error) *HandlerError {
	return &HandlerError{Kind: kind, Requeue: true, Err: err}
}

// Permanent wraps err as a non-retryable failure: deserialization,
// validation, 4xx/auth, batch-fatal states, recursion-bound overruns,
// and partial-response-missing. The worker rejects with requeue=false.
func Permanent(kind Kind, err error) *HandlerError {
	return &HandlerError{Kind: kind, Requeue: false, Err: err}
}

// AsHandlerError unwraps err looking for a *HandlerError, returning
// ok=false if none is found anywhere in the chain.
func AsHandlerError(err error) (*HandlerError, bool) {
	var he *HandlerError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
