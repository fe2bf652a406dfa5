// Package responderr provides structured error types for the responder pipeline.
//
// Every component surfaces its failures as an *Error carrying the component
// name, the operation that failed, a standard error code and an ErrorClass.
// The pipeline uses the class to decide whether a failure is retried:
//
//	err := responderr.New("dispatcher", "isolate", responderr.CodeResourceNotFound, "instance i-123 not found")
//	if responderr.IsRetryable(err) {
//	    // never reached: RESOURCE_NOT_FOUND is permanent
//	}
//
// Errors wrap their cause and support errors.Is against the package sentinels,
// which match by code regardless of component or operation:
//
//	if errors.Is(err, responderr.ErrResourceNotFound) {
//	    // mark the remediation failed without retrying
//	}
package responderr
