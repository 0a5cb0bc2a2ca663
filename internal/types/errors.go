package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the failure category reported to the caller.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindPlanner       ErrorKind = "planner"
	KindNormalization ErrorKind = "normalization"
	KindConfiguration ErrorKind = "configuration"
	KindTimeout       ErrorKind = "timeout"
	KindCancelled     ErrorKind = "cancelled"
	KindInternal      ErrorKind = "internal"
)

// Sentinels for errors.Is matching against the concrete error types below.
var (
	ErrValidation    = errors.New("validation error")
	ErrPlanner       = errors.New("planner error")
	ErrNormalization = errors.New("normalization error")
	ErrConfiguration = errors.New("configuration error")
)

// Validation codes.
const (
	CodeMissingField = "missing_field"
	CodeWrongType    = "wrong_type"
	CodeDuplicateID  = "duplicate_id"
)

// ValidationError reports a malformed or incomplete trial payload.
// Field always names the canonical field (task_id, goal, metadata, history...).
type ValidationError struct {
	Code   string
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation: %s: %s: %s", e.Code, e.Field, e.Detail)
	}
	return fmt.Sprintf("validation: %s: %s", e.Code, e.Field)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// MissingField builds a missing_field ValidationError.
func MissingField(field string) *ValidationError {
	return &ValidationError{Code: CodeMissingField, Field: field}
}

// WrongType builds a wrong_type ValidationError.
func WrongType(field, detail string) *ValidationError {
	return &ValidationError{Code: CodeWrongType, Field: field, Detail: detail}
}

// PlannerCode classifies a provider failure.
type PlannerCode string

const (
	PlannerTimeout           PlannerCode = "timeout"
	PlannerRateLimited       PlannerCode = "rate_limited"
	PlannerAuth              PlannerCode = "auth"
	PlannerUpstream          PlannerCode = "upstream"
	PlannerMalformedResponse PlannerCode = "malformed_response"
)

// Retryable reports whether another attempt may succeed.
// Authentication failures are not transient.
func (c PlannerCode) Retryable() bool { return c != PlannerAuth }

// PlannerError is a transport or provider failure of the model call.
type PlannerError struct {
	Code     PlannerCode
	Attempts int
	Err      error
}

func (e *PlannerError) Error() string {
	msg := fmt.Sprintf("planner: %s", e.Code)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlannerError) Unwrap() error { return e.Err }

func (e *PlannerError) Is(target error) bool { return target == ErrPlanner }

// NewPlannerError wraps err with a planner code.
func NewPlannerError(code PlannerCode, err error) *PlannerError {
	return &PlannerError{Code: code, Err: err}
}

// CodeEmptyAfterFiltering is the only normalization failure: nothing usable survived.
const CodeEmptyAfterFiltering = "empty_after_filtering"

// NormalizationError reports planner output that is unusable even after
// per-step filtering.
type NormalizationError struct {
	Code        string
	Diagnostics []Diagnostic
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization: %s (%d step(s) dropped)", e.Code, len(e.Diagnostics))
}

func (e *NormalizationError) Is(target error) bool { return target == ErrNormalization }

// ConfigurationError is fatal at startup: the service must not accept requests.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// FailureFromError maps any pipeline error onto the wire-level Failure.
//
// Expectations:
//   - *ValidationError → KindValidation with its code and field
//   - *PlannerError → KindPlanner with the planner code
//   - *NormalizationError → KindNormalization with its code
//   - context.DeadlineExceeded → KindTimeout
//   - context.Canceled → KindCancelled
//   - anything else → KindInternal
func FailureFromError(err error) *Failure {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		pe *PlannerError
		ne *NormalizationError
		ce *ConfigurationError
	)
	switch {
	case errors.As(err, &ve):
		return &Failure{Kind: KindValidation, Code: ve.Code, Field: ve.Field, Message: err.Error()}
	case errors.As(err, &pe):
		return &Failure{Kind: KindPlanner, Code: string(pe.Code), Message: err.Error()}
	case errors.As(err, &ne):
		return &Failure{Kind: KindNormalization, Code: ne.Code, Message: err.Error()}
	case errors.As(err, &ce):
		return &Failure{Kind: KindConfiguration, Field: ce.Field, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: KindTimeout, Code: string(KindTimeout), Message: "pipeline timed out: " + err.Error()}
	case errors.Is(err, context.Canceled):
		return &Failure{Kind: KindCancelled, Message: err.Error()}
	default:
		return &Failure{Kind: KindInternal, Message: err.Error()}
	}
}

// KindOf returns the failure kind reported on the wire for err, or "" for nil.
func KindOf(err error) ErrorKind {
	if f := FailureFromError(err); f != nil {
		return f.Kind
	}
	return ""
}
