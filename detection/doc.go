// Package detection pulls active findings from Amazon GuardDuty and renders
// them as the EventBridge-shaped events the normalizer already accepts, so
// a poll.Poller can queue them next to pushed detection events.
package detection
