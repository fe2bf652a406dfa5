package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zero-day-ai/responder/finding"
)

func TestEvaluateBelowThresholdIsAlwaysNone(t *testing.T) {
	cfg := DefaultConfig()
	for s := 0.0; s < cfg.SeverityThreshold; s += 0.5 {
		for _, ref := range []string{"", "i-123"} {
			v := Evaluate(finding.Finding{ID: "f", Severity: s, ResourceRef: ref}, cfg)
			assert.Equal(t, ActionNone, v.Action, "severity %v resource %q", s, ref)
			assert.Equal(t, ReasonBelowThreshold, v.Reason)
		}
	}
}

func TestEvaluateAtOrAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	for s := cfg.SeverityThreshold; s <= finding.MaxSeverity; s += 0.5 {
		withResource := Evaluate(finding.Finding{ID: "f", Severity: s, ResourceRef: "r-123"}, cfg)
		assert.Equal(t, ActionNotifyAndRemediate, withResource.Action, "severity %v", s)

		without := Evaluate(finding.Finding{ID: "f", Severity: s}, cfg)
		assert.Equal(t, ActionNotify, without.Action, "severity %v", s)
		assert.Equal(t, ReasonNoResource, without.Reason)
	}
}

func TestEvaluateThresholdIsAnInput(t *testing.T) {
	f := finding.Finding{ID: "f", Severity: 5, ResourceRef: "i-1"}

	assert.Equal(t, ActionNone, Evaluate(f, DefaultConfig()).Action)

	cfg := DefaultConfig()
	cfg.SeverityThreshold = 4
	assert.Equal(t, ActionNotifyAndRemediate, Evaluate(f, cfg).Action)
}

func TestEvaluateToggles(t *testing.T) {
	tests := []struct {
		name      string
		notify    bool
		remediate bool
		resource  string
		want      Action
		reason    string
	}{
		{"remediation disabled", true, false, "i-1", ActionNotify, "remediation disabled"},
		{"notification disabled", false, true, "i-1", ActionRemediate, "notification disabled"},
		{"both disabled", false, false, "i-1", ActionNone, "remediation disabled; notification disabled"},
		{"notification disabled without resource", false, true, "", ActionNone, "no remediable resource; notification disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{SeverityThreshold: 7, NotifyEnabled: tt.notify, RemediateEnabled: tt.remediate}
			v := Evaluate(finding.Finding{ID: "f", Severity: 9, ResourceRef: tt.resource}, cfg)
			assert.Equal(t, tt.want, v.Action)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestRemediationRequiresResource(t *testing.T) {
	cfgs := []Config{
		DefaultConfig(),
		{SeverityThreshold: 0, NotifyEnabled: false, RemediateEnabled: true},
		{SeverityThreshold: 0, NotifyEnabled: true, RemediateEnabled: true},
	}
	for _, cfg := range cfgs {
		for s := 0.0; s <= 10; s++ {
			v := Evaluate(finding.Finding{ID: "f", Severity: s}, cfg)
			assert.False(t, v.Action.Remediates(), "cfg %+v severity %v", cfg, s)
		}
	}
}

func TestActionPredicates(t *testing.T) {
	assert.False(t, ActionNone.Notifies())
	assert.False(t, ActionNone.Remediates())
	assert.True(t, ActionNotify.Notifies())
	assert.False(t, ActionNotify.Remediates())
	assert.True(t, ActionRemediate.Remediates())
	assert.True(t, ActionNotifyAndRemediate.Notifies())
	assert.True(t, ActionNotifyAndRemediate.Remediates())
}
