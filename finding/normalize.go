package finding

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zero-day-ai/responder/responderr"
)

// SeverityRule derives a severity for findings whose source reported none.
// It is consulted for advisory-feed findings only.
type SeverityRule interface {
	Severity(f *Finding) (float64, error)
}

// Normalizer converts raw inbound events into Findings.
// The zero value is ready to use.
type Normalizer struct {
	// AdvisorySeverity fills in the severity of advisory-feed events that
	// arrive without one. When nil such events are malformed.
	AdvisorySeverity SeverityRule

	// Now returns the receive timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Normalize converts a raw event using the zero Normalizer.
func Normalize(raw []byte) (*Finding, error) {
	return Normalizer{}.Normalize(raw)
}

// Normalize parses raw into a Finding. It has no side effects.
//
// Missing optional fields (resource, title, detail) become empty values;
// severities outside [0, 10] are clamped. A missing source defaults to
// detection-engine. The event is malformed when it is not a JSON object,
// has no id, has no numeric severity, or names an unknown source.
func (n Normalizer) Normalize(raw []byte) (*Finding, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, responderr.MalformedEvent("event is not a JSON object: %v", err)
	}

	var f *parsed
	if isGuardDutyEnvelope(fields) {
		f, err = fromGuardDuty(fields)
	} else {
		f, err = fromFlat(fields)
	}
	if err != nil {
		return nil, err
	}

	if f.severityMissing {
		if f.Source != SourceAdvisoryFeed || n.AdvisorySeverity == nil {
			return nil, responderr.MalformedEvent("event %s has no severity", f.ID)
		}
		s, err := n.AdvisorySeverity.Severity(&f.Finding)
		if err != nil {
			return nil, responderr.MalformedEvent("event %s: cannot derive severity: %v", f.ID, err).WithCause(err)
		}
		f.Severity = s
	}

	if math.IsNaN(f.Severity) || math.IsInf(f.Severity, 0) {
		return nil, responderr.MalformedEvent("event %s has a non-finite severity", f.ID)
	}
	f.Severity = ClampSeverity(f.Severity)

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	f.ReceivedAt = now().UTC()

	return &f.Finding, nil
}

// parsed carries a Finding through normalization together with whether the
// severity still has to be derived.
type parsed struct {
	Finding
	severityMissing bool
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNullEvent
	}
	return fields, nil
}

type normalizeError string

func (e normalizeError) Error() string { return string(e) }

const errNullEvent = normalizeError("event is null")

func fromFlat(fields map[string]any) (*parsed, error) {
	id := stringField(fields, "id")
	if id == "" {
		return nil, responderr.MalformedEvent("event has no id")
	}

	source := SourceDetectionEngine
	if s := stringField(fields, "source"); s != "" {
		var err error
		source, err = ParseSource(s)
		if err != nil {
			return nil, responderr.MalformedEvent("event %s: %v", id, err)
		}
	}

	f := &parsed{Finding: Finding{
		ID:          id,
		Source:      source,
		ResourceRef: firstString(fields, "resource", "resourceRef", "resource_ref"),
		Title:       stringField(fields, "title"),
		Detail:      firstString(fields, "detail", "description"),
		Link:        stringField(fields, "link"),
		PublishedAt: firstString(fields, "date", "date_posted", "published_at"),
	}}

	sev, present, err := numberField(fields, "severity")
	if err != nil {
		return nil, responderr.MalformedEvent("event %s: %v", id, err)
	}
	f.Severity = sev
	f.severityMissing = !present

	return f, nil
}

// isGuardDutyEnvelope matches the EventBridge shape delivered for GuardDuty findings.
func isGuardDutyEnvelope(fields map[string]any) bool {
	if _, ok := fields["detail"].(map[string]any); !ok {
		return false
	}
	return stringField(fields, "source") == "aws.guardduty" ||
		stringField(fields, "detail-type") == "GuardDuty Finding"
}

func fromGuardDuty(fields map[string]any) (*parsed, error) {
	detail := fields["detail"].(map[string]any)

	id := firstString(detail, "id")
	if id == "" {
		id = stringField(fields, "id")
	}
	if id == "" {
		return nil, responderr.MalformedEvent("guardduty event has no finding id")
	}

	sev, present, err := numberField(detail, "severity")
	if err != nil {
		return nil, responderr.MalformedEvent("guardduty finding %s: %v", id, err)
	}
	if !present {
		return nil, responderr.MalformedEvent("guardduty finding %s has no severity", id)
	}

	f := &parsed{Finding: Finding{
		ID:       id,
		Source:   SourceDetectionEngine,
		Severity: sev,
		Title:    stringField(detail, "title"),
		Detail:   stringField(detail, "description"),

		PublishedAt: firstString(detail, "updatedAt", "createdAt"),
	}}

	if resource, ok := detail["resource"].(map[string]any); ok {
		if instance, ok := resource["instanceDetails"].(map[string]any); ok {
			f.ResourceRef = stringField(instance, "instanceId")
		}
	}
	if f.ResourceRef == "" {
		// The response lambda reads a flat instance-id for sample events.
		f.ResourceRef = stringField(detail, "instance-id")
	}

	return f, nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringField(fields, k); v != "" {
			return v
		}
	}
	return ""
}

// numberField reads a numeric field that may also be encoded as a string.
// present is false when the key is absent or null.
func numberField(fields map[string]any, key string) (value float64, present bool, err error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return 0, false, nil
	}

	switch v := raw.(type) {
	case json.Number:
		value, err = v.Float64()
	case string:
		value, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, true, normalizeError(key + " is not numeric")
	}
	if err != nil {
		return 0, true, normalizeError(key + " is not numeric")
	}
	return value, true, nil
}
