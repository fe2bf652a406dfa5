package tracker

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an advisory record.
type Status string

const (
	// StatusPending is the initial state: the finding was seen but not acted on.
	StatusPending Status = "pending"

	// StatusNotified means a notification was delivered.
	StatusNotified Status = "notified"

	// StatusRemediated means the affected resource was isolated.
	StatusRemediated Status = "remediated"

	// StatusFailed means a selected action failed terminally.
	StatusFailed Status = "failed"

	// StatusReleased means an operator lifted the isolation.
	StatusReleased Status = "released"
)

// IsValid returns true if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusNotified, StatusRemediated, StatusFailed, StatusReleased:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the record's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusRemediated || s == StatusFailed || s == StatusReleased
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status: %s", s)
	}
	return status, nil
}

// AdvisoryRecord is the durable compliance-tracking entity for one finding.
type AdvisoryRecord struct {
	FindingID   string    `json:"finding_id"`
	Status      Status    `json:"status"`
	Source      string    `json:"source,omitempty"`
	Title       string    `json:"title,omitempty"`
	Link        string    `json:"link,omitempty"`
	PublishedAt string    `json:"date_posted,omitempty"`
	Severity    float64   `json:"severity"`
	ResourceRef string    `json:"resource,omitempty"`
	Reason      string    `json:"reason,omitempty"`

	// PreviousGroups holds the security groups an isolated instance had
	// before it was moved to quarantine. Release restores them.
	PreviousGroups []string `json:"previous_groups,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Fields is a partial update applied by Upsert. Zero-valued fields leave the
// stored value unchanged.
type Fields struct {
	Status      Status
	Source      string
	Title       string
	Link        string
	PublishedAt string
	Severity    *float64
	ResourceRef string
	Reason      string

	// PreviousGroups replaces the stored list when non-nil.
	PreviousGroups []string

	// UpdatedAt stamps LastUpdated (and CreatedAt for new records).
	// The Tracker always sets it.
	UpdatedAt time.Time
}

// Merge applies fields to existing (nil for a new record) and returns the
// resulting record. New records start as pending unless fields set a status.
func Merge(existing *AdvisoryRecord, findingID string, fields Fields) AdvisoryRecord {
	var rec AdvisoryRecord
	if existing != nil {
		rec = *existing
	} else {
		rec = AdvisoryRecord{
			FindingID: findingID,
			Status:    StatusPending,
			CreatedAt: fields.UpdatedAt,
		}
	}

	if fields.Status != "" {
		rec.Status = fields.Status
	}
	setIfNotEmpty(&rec.Source, fields.Source)
	setIfNotEmpty(&rec.Title, fields.Title)
	setIfNotEmpty(&rec.Link, fields.Link)
	setIfNotEmpty(&rec.PublishedAt, fields.PublishedAt)
	setIfNotEmpty(&rec.ResourceRef, fields.ResourceRef)
	setIfNotEmpty(&rec.Reason, fields.Reason)
	if fields.Severity != nil {
		rec.Severity = *fields.Severity
	}
	if fields.PreviousGroups != nil {
		rec.PreviousGroups = append([]string(nil), fields.PreviousGroups...)
	}
	rec.LastUpdated = fields.UpdatedAt

	return rec
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
