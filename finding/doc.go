// Package finding provides the canonical representation of a security
// finding and the normalizer that produces it from raw inbound events.
//
// # Sources
//
// Findings come from two sources:
//   - detection-engine: threat detections such as GuardDuty findings, usually
//     scoped to a resource (an EC2 instance or a Kubernetes pod)
//   - advisory-feed: external security advisories, never resource-scoped
//
// # Normalization
//
// Normalize accepts either the flat inbound contract
//
//	{"id": "f1", "source": "detection-engine", "severity": 8, "resource": "i-0abc", "title": "..."}
//
// or an EventBridge GuardDuty envelope, and returns a Finding with severity
// clamped to [0, 10]. Events that lack an id, a usable severity or a known
// source fail with a responderr MALFORMED_EVENT error.
//
// # Severity
//
// Severity is numeric (0 to 10, higher is worse). Band maps it onto the
// familiar critical/high/medium/low/info labels for notifications.
package finding
