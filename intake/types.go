package intake

import (
	"encoding/json"
	"fmt"

	"github.com/zero-day-ai/responder/pipeline"
)

// Envelope wraps one raw event on the queue.
type Envelope struct {
	// ID identifies this delivery. It is not the finding id.
	ID string `json:"id"`

	// Event is the raw inbound event, passed unmodified to the pipeline.
	Event json.RawMessage `json:"event"`

	// Submitter names the producer, e.g. "cli" or "advisory-poller".
	Submitter string `json:"submitter,omitempty"`

	// SubmittedAt is the Unix timestamp in milliseconds when the event was queued.
	SubmittedAt int64 `json:"submitted_at"`

	// Deliveries counts how many times the event has been handed to a worker.
	Deliveries int `json:"deliveries,omitempty"`
}

// Validate checks that the envelope carries a JSON event.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is required")
	}
	if len(e.Event) == 0 || !json.Valid(e.Event) {
		return fmt.Errorf("envelope %s carries no valid JSON event", e.ID)
	}
	return nil
}

// DeadLetter is an event parked because the pipeline could never use it.
type DeadLetter struct {
	Envelope

	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error"`
	WorkerID  string `json:"worker_id,omitempty"`
	FailedAt  int64  `json:"failed_at"`
}

// Outcome is published once per processed envelope.
type Outcome struct {
	EnvelopeID  string           `json:"envelope_id"`
	WorkerID    string           `json:"worker_id"`
	Summary     pipeline.Summary `json:"summary"`
	StartedAt   int64            `json:"started_at"`
	CompletedAt int64            `json:"completed_at"`
}

// Keys names the Redis keys the queue uses.
type Keys struct {
	// Prefix is prepended to per-worker keys.
	Prefix string

	Findings   string
	DeadLetter string
	Outcomes   string
}

// DefaultKeys returns the standard key layout.
func DefaultKeys() Keys {
	return Keys{
		Prefix:     "responder",
		Findings:   "responder:findings",
		DeadLetter: "responder:findings:dead",
		Outcomes:   "responder:outcomes",
	}
}

// WithPrefix returns the standard key layout under prefix.
func WithPrefix(prefix string) Keys {
	if prefix == "" {
		return DefaultKeys()
	}
	return Keys{
		Prefix:     prefix,
		Findings:   formatKeyName(prefix, "findings"),
		DeadLetter: formatKeyName(prefix, "findings", "dead"),
		Outcomes:   formatKeyName(prefix, "outcomes"),
	}
}
