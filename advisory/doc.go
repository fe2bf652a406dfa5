// Package advisory pulls third-party security advisories and feeds them to
// the intake queue as advisory-feed events.
//
// Feeds rarely carry a numeric severity, so the normalizer asks a
// SeverityRule for one. CELRule evaluates a CEL expression over the
// advisory's fields; the default rates anything whose title mentions
// "critical" at 9 and everything else at 4.
package advisory
