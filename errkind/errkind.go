// Package errkind classifies the terminal error of any core component into
// one of the six kinds the gateway surfaces to callers and to telemetry.
// Components wrap their own sentinel/typed errors with a Kind so the
// execution pipeline, HTTP layer, and span recorder can branch on outcome
// without knowing each component's concrete error types.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the six error taxonomy buckets.
type Kind string

const (
	// Validation covers bad requests: unknown model, malformed messages,
	// invalid tool schema. Surfaced as HTTP 400; never retried.
	Validation Kind = "validation"

	// GuardFailed covers a request blocked by an input/output guard, or the
	// guard evaluator itself erroring. Terminal.
	GuardFailed Kind = "guard_failed"

	// ProviderTransient covers network errors, 5xx, rate-limiting, and
	// transient validation failures upstream. Eligible for retry.
	ProviderTransient Kind = "provider_transient"

	// ProviderTerminal covers content-filter, guardrail-intervened,
	// max-tokens, malformed upstream response, and tool-not-found. Not
	// retried; surfaced verbatim.
	ProviderTerminal Kind = "provider_terminal"

	// Cancellation covers client-side cancellation or deadline expiry.
	Cancellation Kind = "cancellation"

	// Persistence covers writer failures. Logged; does not fail the
	// request path.
	Persistence Kind = "persistence"
)

// Classified is implemented by any error that knows its own Kind.
type Classified interface {
	error
	Kind() Kind
}

// Error wraps an underlying cause with a Kind and optional structured
// fields surfaced to the caller (e.g. guard_id, model name).
type Error struct {
	kind   Kind
	msg    string
	cause  error
	Fields map[string]any
}

// New constructs a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap constructs a classified error from an existing cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// WithField attaches a structured field and returns the receiver for
// chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = value
	return e
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Of returns the Kind of err if it (or something it wraps) implements
// Classified, and ProviderTerminal otherwise — callers at the telemetry/HTTP
// boundary must always be able to make a decision.
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return ProviderTerminal
}

// Retryable reports whether an error's kind is eligible for retry by the
// execution pipeline's retry loop (§4.3).
func Retryable(err error) bool {
	return Of(err) == ProviderTransient
}
