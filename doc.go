// Package responder is an automated security incident-response pipeline.
//
// Findings arrive from a threat detection engine or an external advisory
// feed. Each one is normalized (finding), triaged against a severity
// threshold (triage) and then acted on concurrently by the pipeline
// controller (pipeline):
//
//   - remediation isolates the affected EC2 instance or Kubernetes pod
//   - notify publishes an alert over SNS, Kafka, Redis or the log
//   - tracker keeps an advisory record in Redis, etcd, SSM or memory
//
// Events are queued in Redis (intake) and consumed by a worker pool
// (worker). The poll package feeds that queue from external sources: the
// advisory package's JSON feed, whose severities come from a CEL rule, and
// GuardDuty's active findings (detection). Telemetry, health and serve provide OpenTelemetry
// export and a gRPC health endpoint; cmd/responder is the CLI.
package responder
