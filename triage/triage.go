// Package triage decides what the pipeline does with a finding.
//
// Evaluate is a pure function of the finding and an explicit Config: it has
// no side effects and never fails. Remediation is only ever selected for a
// finding that names a resource, and a severity below the configured
// threshold always yields ActionNone.
package triage

import (
	"strings"

	"github.com/zero-day-ai/responder/finding"
)

// DefaultSeverityThreshold is the threshold used when none is configured.
const DefaultSeverityThreshold = 7.0

// Action is the class of response selected for a finding.
type Action string

const (
	ActionNone               Action = "none"
	ActionNotify             Action = "notify"
	ActionRemediate          Action = "remediate"
	ActionNotifyAndRemediate Action = "notify_and_remediate"
)

// Notifies reports whether the action includes a notification.
func (a Action) Notifies() bool {
	return a == ActionNotify || a == ActionNotifyAndRemediate
}

// Remediates reports whether the action includes remediation.
func (a Action) Remediates() bool {
	return a == ActionRemediate || a == ActionNotifyAndRemediate
}

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Reasons recorded on verdicts.
const (
	ReasonBelowThreshold    = "below threshold"
	ReasonAboveThreshold    = "severity at or above threshold"
	ReasonNoResource        = "no remediable resource"
	reasonNotifyDisabled    = "notification disabled"
	reasonRemediateDisabled = "remediation disabled"
)

// Config holds the triage policy inputs.
type Config struct {
	// SeverityThreshold is the minimum severity that warrants any action.
	SeverityThreshold float64 `yaml:"severity_threshold"`

	// NotifyEnabled allows the notify half of a verdict.
	NotifyEnabled bool `yaml:"notify_enabled"`

	// RemediateEnabled allows the remediate half of a verdict.
	RemediateEnabled bool `yaml:"remediate_enabled"`
}

// DefaultConfig returns threshold 7 with notification and remediation enabled.
func DefaultConfig() Config {
	return Config{
		SeverityThreshold: DefaultSeverityThreshold,
		NotifyEnabled:     true,
		RemediateEnabled:  true,
	}
}

// Verdict is the decision derived from a finding.
type Verdict struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Evaluate maps a finding to a verdict under cfg.
func Evaluate(f finding.Finding, cfg Config) Verdict {
	if f.Severity < cfg.SeverityThreshold {
		return Verdict{Action: ActionNone, Reason: ReasonBelowThreshold}
	}

	notify := cfg.NotifyEnabled
	remediate := cfg.RemediateEnabled && f.HasResource()

	var reasons []string
	if !f.HasResource() {
		reasons = append(reasons, ReasonNoResource)
	} else if !cfg.RemediateEnabled {
		reasons = append(reasons, reasonRemediateDisabled)
	}
	if !cfg.NotifyEnabled {
		reasons = append(reasons, reasonNotifyDisabled)
	}

	v := Verdict{Reason: ReasonAboveThreshold}
	switch {
	case notify && remediate:
		v.Action = ActionNotifyAndRemediate
	case remediate:
		v.Action = ActionRemediate
	case notify:
		v.Action = ActionNotify
	default:
		v.Action = ActionNone
	}

	if len(reasons) > 0 {
		v.Reason = strings.Join(reasons, "; ")
	}
	return v
}
