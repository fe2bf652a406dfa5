// Package telemetry wires OpenTelemetry into the responder.
//
// Setup installs global tracer and meter providers that export over OTLP/gRPC.
// Metrics implements pipeline.Observer and records one span per action plus
// the following instruments:
//
//	responder.findings.processed   counter, by state and triage action
//	responder.actions              counter, by action, status and error code
//	responder.action.attempts      histogram of attempts per action
//	responder.event.duration       histogram of end-to-end processing time (ms)
//	responder.queue.depth          gauge of pending events, when registered
package telemetry
