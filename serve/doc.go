// Package serve exposes the responder's health over the standard gRPC health
// protocol (grpc.health.v1) so orchestrators can check worker processes.
package serve
