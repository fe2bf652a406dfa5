// Package pipeline owns the per-event control flow of the responder.
//
// A Controller takes one raw event through
//
//	received -> normalized -> triaged -> acting -> done | partial_failure | failed | cancelled
//
// and returns a Summary naming every action it considered, whether it ran,
// and how it ended. Remediation, notification and tracking for one finding
// run concurrently and independently: a failure in one never cancels or
// masks another. Each action runs under the shared retry.Policy, so only
// retryable failures are repeated and never more than the policy allows.
package pipeline
