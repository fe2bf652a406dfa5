// Package notify renders findings into human-readable alerts and delivers
// them to a single broadcast Channel.
//
// Channels deliver at least once, so every Channel implementation must be
// safe to call again with the same Message. Delivery failures are returned
// as retryable NOTIFICATION_DELIVERY errors.
package notify
