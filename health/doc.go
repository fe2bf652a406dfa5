// Package health provides dependency health checks for the responder.
//
// A Checker runs named checks (Redis, tracking store, advisory feed, worker
// liveness) with a shared timeout and combines them into one Report. The
// serve package publishes the combined status over the gRPC health protocol.
package health
