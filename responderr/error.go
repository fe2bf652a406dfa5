package responderr

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error codes used across the pipeline for consistent outcome reporting.
const (
	// CodeMalformedEvent indicates an inbound event could not be normalized
	CodeMalformedEvent = "MALFORMED_EVENT"

	// CodeResourceNotFound indicates the remediation target no longer exists
	CodeResourceNotFound = "RESOURCE_NOT_FOUND"

	// CodeUnsupportedResource indicates the resource kind cannot be isolated
	CodeUnsupportedResource = "UNSUPPORTED_RESOURCE"

	// CodeRemediationRejected indicates the resource API refused the change (permissions, invalid state)
	CodeRemediationRejected = "REMEDIATION_REJECTED"

	// CodeTransientRemediation indicates throttling or connectivity failures against the resource API
	CodeTransientRemediation = "TRANSIENT_REMEDIATION"

	// CodeTrackingStoreUnavailable indicates the advisory store could not be read or written
	CodeTrackingStoreUnavailable = "TRACKING_STORE_UNAVAILABLE"

	// CodeNotificationDelivery indicates the notification channel rejected or dropped a message
	CodeNotificationDelivery = "NOTIFICATION_DELIVERY"

	// CodeCancelled indicates the hosting invocation was cancelled before the action finished
	CodeCancelled = "CANCELLED"
)

// Error is a structured error type for pipeline operations.
// It records which component and operation failed, a standard error code,
// and optionally wraps the underlying cause.
type Error struct {
	// Component is the pipeline component that generated the error
	Component string `json:"component,omitempty"`

	// Operation is the specific operation that failed
	Operation string `json:"operation,omitempty"`

	// Code is a standard error code constant
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message,omitempty"`

	// Details contains additional context as key-value pairs
	Details map[string]any `json:"details,omitempty"`

	// Cause is the underlying error that caused this error
	Cause error `json:"-"`

	// Class categorizes the error for retry decisions
	Class ErrorClass `json:"class,omitempty"`
}

// New creates a new structured error. The class defaults to the code's
// default class; override it with WithClass.
//
// Example:
//
//	err := responderr.New("tracker", "upsert", responderr.CodeTrackingStoreUnavailable, "redis unreachable")
func New(component, operation, code, message string) *Error {
	return &Error{
		Component: component,
		Operation: operation,
		Code:      code,
		Message:   message,
		Class:     DefaultClassForCode(code),
	}
}

// WithCause adds an underlying error to this error.
// This method returns the same error instance for method chaining.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails adds additional context to this error.
// This method returns the same error instance for method chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithClass overrides the error classification.
func (e *Error) WithClass(class ErrorClass) *Error {
	e.Class = class
	return e
}

// Error implements the error interface.
// It formats the error as: "component [operation/code]: message: cause"
//
// Examples:
//   - "dispatcher [isolate/RESOURCE_NOT_FOUND]: instance i-123 not found"
//   - "normalizer [normalize/MALFORMED_EVENT]: id is required"
func (e *Error) Error() string {
	var parts []string

	switch {
	case e.Component != "" && e.Operation != "":
		parts = append(parts, fmt.Sprintf("%s [%s/%s]", e.Component, e.Operation, e.Code))
	case e.Component != "":
		parts = append(parts, fmt.Sprintf("%s [%s]", e.Component, e.Code))
	default:
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error equality checking for errors.Is().
// Codes must match; component and operation are compared only when the
// target sets them, so the package sentinels match any component.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	if t.Component != "" && e.Component != t.Component {
		return false
	}
	if t.Operation != "" && e.Operation != t.Operation {
		return false
	}
	return true
}

// Sentinels for errors.Is checks. They match any *Error with the same code.
var (
	ErrMalformedEvent           = &Error{Code: CodeMalformedEvent}
	ErrResourceNotFound         = &Error{Code: CodeResourceNotFound}
	ErrUnsupportedResource      = &Error{Code: CodeUnsupportedResource}
	ErrRemediationRejected      = &Error{Code: CodeRemediationRejected}
	ErrTransientRemediation     = &Error{Code: CodeTransientRemediation}
	ErrTrackingStoreUnavailable = &Error{Code: CodeTrackingStoreUnavailable}
	ErrNotificationDelivery     = &Error{Code: CodeNotificationDelivery}
	ErrCancelled                = &Error{Code: CodeCancelled}
)

// MalformedEvent returns a MALFORMED_EVENT error raised by the normalizer.
func MalformedEvent(format string, args ...any) *Error {
	return New("normalizer", "normalize", CodeMalformedEvent, fmt.Sprintf(format, args...))
}

// ResourceNotFound returns a RESOURCE_NOT_FOUND error for the given resource.
func ResourceNotFound(resourceRef string, cause error) *Error {
	return New("dispatcher", "isolate", CodeResourceNotFound, fmt.Sprintf("resource %s not found", resourceRef)).
		WithCause(cause).
		WithDetails(map[string]any{"resource": resourceRef})
}

// UnsupportedResource returns an UNSUPPORTED_RESOURCE error for the given resource.
func UnsupportedResource(resourceRef, reason string) *Error {
	return New("dispatcher", "isolate", CodeUnsupportedResource, fmt.Sprintf("resource %s cannot be isolated: %s", resourceRef, reason)).
		WithDetails(map[string]any{"resource": resourceRef})
}

// RemediationRejected returns a terminal REMEDIATION_REJECTED error.
func RemediationRejected(resourceRef string, cause error) *Error {
	return New("dispatcher", "isolate", CodeRemediationRejected, fmt.Sprintf("isolating %s was rejected", resourceRef)).
		WithCause(cause).
		WithDetails(map[string]any{"resource": resourceRef})
}

// TransientRemediation returns a retryable TRANSIENT_REMEDIATION error.
func TransientRemediation(resourceRef string, cause error) *Error {
	return New("dispatcher", "isolate", CodeTransientRemediation, fmt.Sprintf("isolating %s failed", resourceRef)).
		WithCause(cause).
		WithDetails(map[string]any{"resource": resourceRef})
}

// TrackingStoreUnavailable returns a retryable TRACKING_STORE_UNAVAILABLE error.
func TrackingStoreUnavailable(operation, findingID string, cause error) *Error {
	return New("tracker", operation, CodeTrackingStoreUnavailable, fmt.Sprintf("advisory store unavailable for %s", findingID)).
		WithCause(cause)
}

// NotificationDelivery returns a retryable NOTIFICATION_DELIVERY error.
func NotificationDelivery(channel string, cause error) *Error {
	return New("notifier", "notify", CodeNotificationDelivery, fmt.Sprintf("delivery via %s failed", channel)).
		WithCause(cause)
}

// CodeOf extracts the code from err, or "" when err carries no *Error.
func CodeOf(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
