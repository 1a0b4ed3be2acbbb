// Package apperr holds the closed set of failure kinds a call audit can end in.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown           Kind = ""
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindDecodeFailure     Kind = "DecodeFailure"
	KindUpstream          Kind = "UpstreamServiceError"
	KindTimeout           Kind = "Timeout"
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindSchemaViolation   Kind = "SchemaViolation"
	KindQuotaExhausted    Kind = "QuotaExhausted"
	KindCanceled          Kind = "Canceled"
	KindValidation        Kind = "ValidationError"
)

// Error is a failure tagged with its kind and, once it crosses the
// orchestrator, the pipeline stage it happened in.
type Error struct {
	Kind  Kind
	Stage string
	Op    string
	Err   error
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, so errors.Is(err, &Error{Kind: KindQuotaExhausted}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// Message is the underlying cause without kind and stage prefixes.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf reports the kind of err. Bare context errors map to Canceled and
// Timeout; anything untyped is an upstream fault.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUpstream
}

// AtStage tags err with the stage it surfaced in, keeping an existing tag.
// When the typed error sits under other wrapping, the result wraps err
// whole so the outer context stays in the message.
func AtStage(stage string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Kind: KindOf(err), Stage: stage, Err: err}
	}
	if e.Stage != "" {
		stage = e.Stage
	}
	if error(e) != err {
		return &Error{Kind: KindOf(err), Stage: stage, Err: err}
	}
	if e.Stage != "" {
		return e
	}
	cp := *e
	cp.Stage = stage
	return &cp
}

// FromContext converts a done context into a Canceled or Timeout error.
func FromContext(ctx context.Context, op string) *Error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, op, err)
	}
	return Wrap(KindCanceled, op, err)
}
