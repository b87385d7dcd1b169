// Package core holds types shared by every internal/core/... component:
// the error taxonomy of §7, used by config loading, rule compilation,
// and the pipeline alike.
package core

import (
	"errors"
	"fmt"

	"github.com/TetsujinOni/go-tartuffe/internal/response"
)

// ErrKind enumerates the error kinds §7 names.
type ErrKind int

const (
	ErrUnknown ErrKind = iota
	ErrConfigInvalid
	ErrInvalidPattern
	ErrScriptInvalid
	ErrUpstreamUnreachable
	ErrBodyTooLarge
	ErrMalformedRequest
	ErrScriptTimeout
	ErrScriptRuntimeError
	ErrRecordingBackendError
	ErrFlowStoreBackendError
)

// Error wraps an underlying cause with a Kind and optional structured
// Fields, so call sites can branch with errors.Is/errors.As instead of
// string matching (§7 "Error representation").
type Error struct {
	Kind   ErrKind
	Err    error
	Fields map[string]interface{}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind.String(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error wrapping err with kind and optional fields.
func New(kind ErrKind, err error, fields map[string]interface{}) *Error {
	return &Error{Kind: kind, Err: err, Fields: fields}
}

// Wrap is a convenience for the common "fmt.Errorf-style" case with no
// structured fields.
func Wrap(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (k ErrKind) String() string {
	switch k {
	case ErrConfigInvalid:
		return "config invalid"
	case ErrInvalidPattern:
		return "invalid pattern"
	case ErrScriptInvalid:
		return "script invalid"
	case ErrUpstreamUnreachable:
		return "upstream unreachable"
	case ErrBodyTooLarge:
		return "body too large"
	case ErrMalformedRequest:
		return "malformed request"
	case ErrScriptTimeout:
		return "script timeout"
	case ErrScriptRuntimeError:
		return "script runtime error"
	case ErrRecordingBackendError:
		return "recording backend error"
	case ErrFlowStoreBackendError:
		return "flow store backend error"
	default:
		return "unknown error"
	}
}

// Code returns the response.Error-compatible machine-readable code for
// admin HTTP handlers, so they can translate a *core.Error with the
// teacher's existing response.WriteError without a type switch per call
// site.
func (e *Error) Code() string {
	switch e.Kind {
	case ErrConfigInvalid, ErrInvalidPattern, ErrScriptInvalid, ErrMalformedRequest, ErrBodyTooLarge:
		return response.ErrCodeBadData
	default:
		return response.ErrCodeInvalidInjection
	}
}

// Message returns the human-readable message for admin HTTP handlers.
func (e *Error) Message() string {
	return e.Error()
}

// Is reports whether err, or any error it wraps, is a *Error of the given
// kind, found through errors.As. ErrKind is not an error value itself, so
// this helper stands in for errors.Is when matching on a kind.
func Is(err error, kind ErrKind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
