// Package errors provides severity-aware error types.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// AdvisorError is a structured error with context.
type AdvisorError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Component   string   `json:"component,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Err         error    `json:"-"`
}

func (e *AdvisorError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
	if e.Component != "" {
		msg = fmt.Sprintf("%s (component: %s)", msg, e.Component)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AdvisorError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeParseDegraded        = "PARSE_DEGRADED"
	ErrCodeDetectorFailure      = "DETECTOR_FAILURE"
	ErrCodeTelemetryUnavailable = "TELEMETRY_UNAVAILABLE"
	ErrCodeConfigInvalid        = "CONFIG_INVALID"
)

// NewParseDegraded records that a query could not be analyzed structurally.
// Not an error for the caller: the request still gets a verdict.
func NewParseDegraded(reason string) *AdvisorError {
	return &AdvisorError{
		Code:        ErrCodeParseDegraded,
		Message:     fmt.Sprintf("query structure could not be analyzed: %s", reason),
		Severity:    SeverityInfo,
		Component:   "parser",
		Recoverable: true,
	}
}

// NewDetectorFailure wraps an error or panic raised inside a detector.
func NewDetectorFailure(detectorID string, err error) *AdvisorError {
	return &AdvisorError{
		Code:        ErrCodeDetectorFailure,
		Message:     "detector failed and contributed no findings",
		Severity:    SeverityWarning,
		Component:   detectorID,
		Recoverable: true,
		Err:         err,
	}
}

// NewTelemetryUnavailable wraps a failed or timed out telemetry lookup.
func NewTelemetryUnavailable(err error) *AdvisorError {
	return &AdvisorError{
		Code:        ErrCodeTelemetryUnavailable,
		Message:     "telemetry lookup unavailable, using static weights",
		Severity:    SeverityWarning,
		Component:   "telemetry",
		Recoverable: true,
		Err:         err,
	}
}

// NewConfigInvalid is fatal at startup.
func NewConfigInvalid(message string, err error) *AdvisorError {
	return &AdvisorError{
		Code:        ErrCodeConfigInvalid,
		Message:     message,
		Severity:    SeverityFatal,
		Component:   "config",
		Recoverable: false,
		Err:         err,
	}
}

// HasCode reports whether err wraps an AdvisorError with the given code.
func HasCode(err error, code string) bool {
	var ae *AdvisorError
	if stderrors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
