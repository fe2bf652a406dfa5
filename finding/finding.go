package finding

import (
	"fmt"
	"time"
)

// Source identifies where a finding originated.
type Source string

const (
	// SourceDetectionEngine marks findings emitted by a threat detection service.
	SourceDetectionEngine Source = "detection-engine"

	// SourceAdvisoryFeed marks findings pulled from an external advisory feed.
	SourceAdvisoryFeed Source = "advisory-feed"
)

// IsValid returns true if the source is known.
func (s Source) IsValid() bool {
	switch s {
	case SourceDetectionEngine, SourceAdvisoryFeed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the source.
func (s Source) String() string {
	return string(s)
}

// ParseSource parses a source name. Besides the canonical names it accepts
// "aws.guardduty" as a detection-engine alias.
func ParseSource(s string) (Source, error) {
	switch s {
	case string(SourceDetectionEngine), "aws.guardduty", "guardduty":
		return SourceDetectionEngine, nil
	case string(SourceAdvisoryFeed), "advisory":
		return SourceAdvisoryFeed, nil
	default:
		return "", fmt.Errorf("invalid source: %s", s)
	}
}

// Finding is a single normalized security event requiring a triage decision.
type Finding struct {
	// ID is unique per source event and stable across retries of the same event.
	ID string `json:"id"`

	// Source identifies the producer of the finding.
	Source Source `json:"source"`

	// Severity is in [0, 10]; higher is worse.
	Severity float64 `json:"severity"`

	// ResourceRef identifies the affected resource; empty when the finding
	// is not resource-scoped.
	ResourceRef string `json:"resource,omitempty"`

	// Title is a brief summary of the finding.
	Title string `json:"title,omitempty"`

	// Detail is a longer free-text description.
	Detail string `json:"detail,omitempty"`

	// Link points to the advisory or console page, when known.
	Link string `json:"link,omitempty"`

	// PublishedAt is the advisory publication date as reported by the feed.
	PublishedAt string `json:"published_at,omitempty"`

	// ReceivedAt is set by the normalizer.
	ReceivedAt time.Time `json:"received_at"`
}

// HasResource reports whether the finding names a remediable resource.
func (f *Finding) HasResource() bool {
	return f.ResourceRef != ""
}

// Validate checks the invariants every normalized finding satisfies.
func (f *Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("finding ID is required")
	}
	if !f.Source.IsValid() {
		return fmt.Errorf("invalid source: %s", f.Source)
	}
	if f.Severity < MinSeverity || f.Severity > MaxSeverity {
		return fmt.Errorf("severity must be between %v and %v, got %v", MinSeverity, MaxSeverity, f.Severity)
	}
	return nil
}

// DisplayTitle returns the title, or a title derived from the ID when the
// source did not provide one.
func (f *Finding) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	return fmt.Sprintf("Finding %s", f.ID)
}
