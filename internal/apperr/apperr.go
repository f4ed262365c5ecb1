// Package apperr defines the engine error type shared by every phase.
package apperr

import (
	"errors"
	"fmt"
)

// Severity classifies how the engine reacts to a failure.
type Severity string

const (
	// Fatal aborts the run with no partial persistence.
	Fatal Severity = "fatal"
	// High gets one bounded recovery attempt before escalating to Fatal.
	High Severity = "high"
	// Medium applies a documented fallback and continues with a warning.
	Medium Severity = "medium"
	// Low uses a fixed default and is only logged.
	Low Severity = "low"
)

// Machine-readable error codes.
const (
	CodeCreatorNotFound       = "creator_not_found"
	CodeTierDataMissing       = "tier_data_missing"
	CodeServiceDegraded       = "service_degraded"
	CodeDiversityInsufficient = "diversity_insufficient"
	CodeCaptionUnavailable    = "caption_unavailable"
	CodeGenerationCancelled   = "generation_cancelled"
	CodeRunInFlight           = "run_in_flight"
	CodeScheduleRejected      = "schedule_rejected"
	CodePersistFailed         = "persist_failed"
	CodeInvalidRequest        = "invalid_request"
)

// Error is a failure carrying a code, a severity and, for recoverable
// cases, the fallback that was applied.
type Error struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Fallback string   `json:"fallback,omitempty"`
	Err      error    `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s [%s]: %s", e.Code, e.Severity, e.Message)
	if e.Fallback != "" {
		msg += " (fallback: " + e.Fallback + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error without a cause.
func New(code string, sev Severity, format string, args ...any) *Error {
	return &Error{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around a cause.
func Wrap(err error, code string, sev Severity, format string, args ...any) *Error {
	return &Error{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithFallback records the fallback that was applied.
func (e *Error) WithFallback(fallback string) *Error {
	e.Fallback = fallback
	return e
}

// As extracts an *Error from a chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// SeverityOf returns the severity of err. Unknown errors are Fatal.
func SeverityOf(err error) Severity {
	if e, ok := As(err); ok {
		return e.Severity
	}
	return Fatal
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	return err != nil && SeverityOf(err) == Fatal
}

// Escalate returns a Fatal copy of a High error whose recovery failed.
func Escalate(err error) *Error {
	e, ok := As(err)
	if !ok {
		return Wrap(err, CodeServiceDegraded, Fatal, "unclassified failure")
	}
	out := *e
	out.Severity = Fatal
	return &out
}
