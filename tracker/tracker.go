package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/zero-day-ai/responder/finding"
	"github.com/zero-day-ai/responder/responderr"
)

// Store persists advisory records. Implementations must make Upsert an
// atomic merge (see Merge) keyed by finding id and return (nil, nil) from
// Get when no record exists.
type Store interface {
	Upsert(ctx context.Context, findingID string, fields Fields) error
	Get(ctx context.Context, findingID string) (*AdvisoryRecord, error)
	Close() error
}

// Indexer is implemented by stores that can enumerate their records.
type Indexer interface {
	IDs(ctx context.Context) ([]string, error)
}

// Tracker is the pipeline's narrow interface to the advisory store.
// It never reads triage policy.
type Tracker struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout bounds every store call. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a Tracker over store.
func New(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		timeout: 5 * time.Second,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Upsert applies fields to the record for findingID, creating it when absent.
func (t *Tracker) Upsert(ctx context.Context, findingID string, fields Fields) error {
	if findingID == "" {
		return fmt.Errorf("finding id is required")
	}
	if fields.Status != "" && !fields.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", fields.Status)
	}
	fields.UpdatedAt = t.now().UTC()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.store.Upsert(ctx, findingID, fields); err != nil {
		return storeError("upsert", findingID, err)
	}

	t.logger.Debug("advisory record upserted", "finding_id", findingID, "status", fields.Status)
	return nil
}

// Get returns the record for findingID, or nil when none exists.
func (t *Tracker) Get(ctx context.Context, findingID string) (*AdvisoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	rec, err := t.store.Get(ctx, findingID)
	if err != nil {
		return nil, storeError("get", findingID, err)
	}
	return rec, nil
}

// Open records the first sighting of a finding. An existing record keeps its
// status; only descriptive fields are refreshed.
func (t *Tracker) Open(ctx context.Context, f finding.Finding) error {
	severity := f.Severity
	return t.Upsert(ctx, f.ID, Fields{
		Source:      f.Source.String(),
		Title:       f.Title,
		Link:        f.Link,
		PublishedAt: f.PublishedAt,
		Severity:    &severity,
		ResourceRef: f.ResourceRef,
	})
}

// Resolve sets the record's status, recording why.
func (t *Tracker) Resolve(ctx context.Context, findingID string, status Status, reason string) error {
	return t.Upsert(ctx, findingID, Fields{Status: status, Reason: reason})
}

// Isolated marks the record remediated and keeps the security groups the
// resource had before isolation, when there were any.
func (t *Tracker) Isolated(ctx context.Context, findingID, reason string, previousGroups []string) error {
	return t.Upsert(ctx, findingID, Fields{
		Status:         StatusRemediated,
		Reason:         reason,
		PreviousGroups: previousGroups,
	})
}

// List returns the tracked records ordered by finding id. A non-empty status
// keeps only records in that status.
func (t *Tracker) List(ctx context.Context, status Status) ([]AdvisoryRecord, error) {
	indexer, ok := t.store.(Indexer)
	if !ok {
		return nil, fmt.Errorf("tracking store %T cannot list records", t.store)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ids, err := indexer.IDs(ctx)
	if err != nil {
		return nil, storeError("list", "all records", err)
	}
	sort.Strings(ids)

	records := make([]AdvisoryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, storeError("get", id, err)
		}
		if rec == nil || (status != "" && rec.Status != status) {
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Close releases the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}

// storeError wraps store failures as retryable TRACKING_STORE_UNAVAILABLE
// errors, leaving already-classified errors untouched.
func storeError(operation, findingID string, err error) error {
	var re *responderr.Error
	if errors.As(err, &re) {
		return err
	}
	return responderr.TrackingStoreUnavailable(operation, findingID, err)
}
