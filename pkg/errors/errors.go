// Package errors provides the structured error type used across the update
// orchestration core: a stable Code drawn from the taxonomy of spec.md §7,
// a human message, an optional wrapped cause, and a fluent builder.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies one of the error kinds from spec.md §7. It is distinct
// from result.Code: result.Code travels in reported-property documents,
// Code here is for in-process error classification and logging.
type Code string

const (
	CodeBadFormat             Code = "BAD_FORMAT"
	CodeSignatureInvalid      Code = "SIGNATURE_INVALID"
	CodeManifestHashMismatch  Code = "MANIFEST_HASH_MISMATCH"
	CodeComponentSelectionFailed Code = "COMPONENT_SELECTION_FAILED"
	CodeHandlerLoadFailed     Code = "HANDLER_LOAD_FAILED"
	CodePhaseFailed           Code = "PHASE_FAILED"
	CodeCancelled             Code = "CANCELLED"
	CodeUnexpectedState       Code = "UNEXPECTED_STATE"
	CodeInternal              Code = "INTERNAL"
)

// Rich is the structured error carried through the core. It implements
// error and supports errors.Is/As via Unwrap.
type Rich struct {
	Code    Code
	Domain  string
	Message string
	Cause   error
	Fields  map[string]any
}

// New creates a Rich error. domain identifies the subsystem raising it
// (e.g. "manifest", "steps", "registry"); msg is the human-readable summary.
func New(code Code, domain, msg string, cause error) *Rich {
	return &Rich{Code: code, Domain: domain, Message: msg, Cause: cause, Fields: map[string]any{}}
}

// With attaches a structured field to the error, returning the receiver for
// chaining.
func (r *Rich) With(key string, value any) *Rich {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[key] = value
	return r
}

// Error implements the error interface.
func (r *Rich) Error() string {
	msg := fmt.Sprintf("[%s/%s] %s", r.Domain, r.Code, r.Message)
	if r.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, r.Cause)
	}
	return msg
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (r *Rich) Unwrap() error { return r.Cause }

// CodeOf extracts the Code from err if it is (or wraps) a *Rich, defaulting
// to CodeInternal otherwise.
func CodeOf(err error) Code {
	var rich *Rich
	if errors.As(err, &rich) {
		return rich.Code
	}
	return CodeInternal
}

// Builder provides the fluent construction style the teacher uses for its
// own Rich error type (NewError().Message(...).Cause(...).Build()).
type Builder struct {
	err *Rich
}

// NewBuilder starts a fluent Rich error construction.
func NewBuilder(code Code, domain string) *Builder {
	return &Builder{err: &Rich{Code: code, Domain: domain, Fields: map[string]any{}}}
}

func (b *Builder) Message(msg string) *Builder {
	b.err.Message = msg
	return b
}

func (b *Builder) Messagef(format string, args ...any) *Builder {
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) With(key string, value any) *Builder {
	b.err.With(key, value)
	return b
}

func (b *Builder) Build() *Rich {
	return b.err
}
