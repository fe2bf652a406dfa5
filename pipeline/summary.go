package pipeline

import (
	"github.com/zero-day-ai/responder/triage"
)

// State is the lifecycle state of one event.
type State string

const (
	StateReceived       State = "received"
	StateNormalized     State = "normalized"
	StateTriaged        State = "triaged"
	StateActing         State = "acting"
	StateDone           State = "done"
	StatePartialFailure State = "partial_failure"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// IsTerminal reports whether s ends an event's lifecycle.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StatePartialFailure, StateFailed, StateCancelled:
		return true
	}
	return false
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// ActionName identifies one of the per-finding side effects.
type ActionName string

const (
	ActionRemediate ActionName = "remediate"
	ActionNotify    ActionName = "notify"
	ActionTrack     ActionName = "track"
)

// OutcomeStatus is how an action ended.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// ActionOutcome records how one action ended.
type ActionOutcome struct {
	Action    ActionName    `json:"action"`
	Status    OutcomeStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	ErrorCode string        `json:"error_code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Detail    string        `json:"detail,omitempty"`

	// DryRun is set on a remediate outcome that only logged the isolation.
	DryRun bool `json:"dry_run,omitempty"`
}

// Summary is the externally observable result of processing one event.
type Summary struct {
	FindingID    string          `json:"finding_id"`
	TriageAction triage.Action   `json:"triage_action,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Outcomes     []ActionOutcome `json:"outcomes"`
	State        State           `json:"state"`

	// ErrorCode and Error are set when the event failed before any action
	// ran, e.g. because it was malformed.
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Outcome returns the outcome recorded for action.
func (s Summary) Outcome(action ActionName) (ActionOutcome, bool) {
	for _, o := range s.Outcomes {
		if o.Action == action {
			return o, true
		}
	}
	return ActionOutcome{}, false
}

// Failed returns the outcomes that failed.
func (s Summary) Failed() []ActionOutcome {
	var failed []ActionOutcome
	for _, o := range s.Outcomes {
		if o.Status == OutcomeFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// terminalState derives the event's final state from its action outcomes.
func terminalState(outcomes []ActionOutcome) State {
	var succeeded, failed, cancelled int
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeCancelled:
			cancelled++
		}
	}

	switch {
	case cancelled > 0:
		return StateCancelled
	case failed == 0:
		return StateDone
	case succeeded > 0:
		return StatePartialFailure
	default:
		return StateFailed
	}
}
