package responderr

import "errors"

// ErrorClass categorizes errors by their nature so callers can decide
// whether an operation is worth repeating.
type ErrorClass string

const (
	// ErrorClassSemantic indicates input issues that no retry can fix
	// Examples: malformed events, missing identifiers
	ErrorClassSemantic ErrorClass = "semantic"

	// ErrorClassTransient indicates temporary failures that may resolve
	// Examples: network timeouts, throttling, store unavailability
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates non-recoverable failures
	// Examples: resource deleted, resource kind not isolatable
	ErrorClassPermanent ErrorClass = "permanent"
)

// DefaultClassForCode returns the default error class for a given error code.
func DefaultClassForCode(code string) ErrorClass {
	switch code {
	case CodeMalformedEvent:
		return ErrorClassSemantic
	case CodeResourceNotFound, CodeUnsupportedResource, CodeRemediationRejected, CodeCancelled:
		return ErrorClassPermanent
	case CodeTransientRemediation, CodeTrackingStoreUnavailable, CodeNotificationDelivery:
		return ErrorClassTransient
	default:
		// Unknown codes are treated as permanent so they are never retried blindly
		return ErrorClassPermanent
	}
}

// IsRetryable reports whether err should be retried by the pipeline retry policy.
// Errors that carry no *Error, including bare context errors, are never retried.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Class == ErrorClassTransient
	}
	return false
}
