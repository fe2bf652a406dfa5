package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zero-day-ai/responder/intake"
	"github.com/zero-day-ai/responder/tracker"
)

// DefaultMemory is how many queued ids a Poller remembers.
const DefaultMemory = 4096

// Entry is one upstream item rendered as a raw event. Err is set when the
// item could not be rendered; the poller counts it and moves on.
type Entry struct {
	ID    string
	Event []byte
	Err   error
}

// Source lists the items an upstream currently publishes.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Entry, error)
}

// Pusher queues raw events. *intake.RedisQueue satisfies it.
type Pusher interface {
	Push(ctx context.Context, event []byte, submitter string) (intake.Envelope, error)
}

// RecordReader looks up tracked findings. *tracker.Tracker satisfies it.
type RecordReader interface {
	Get(ctx context.Context, findingID string) (*tracker.AdvisoryRecord, error)
}

// Result counts what one poll did.
type Result struct {
	Fetched int `json:"fetched"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Poller turns source entries into queued events. Entries already queued
// by this poller or already tracked are skipped.
type Poller struct {
	source  Source
	pusher  Pusher
	records RecordReader
	logger  *slog.Logger
	memory  int

	queued *lru.Cache[string, struct{}]
}

// Option configures a Poller.
type Option func(*Poller)

// WithMemory sets how many queued ids the poller remembers. Older ids fall
// back to the tracker lookup. Default: DefaultMemory.
func WithMemory(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.memory = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Poller. records may be nil, in which case only the
// poller's own memory prevents duplicates.
func New(source Source, pusher Pusher, records RecordReader, opts ...Option) (*Poller, error) {
	if source == nil || pusher == nil {
		return nil, fmt.Errorf("source and pusher are required")
	}

	p := &Poller{
		source:  source,
		pusher:  pusher,
		records: records,
		logger:  slog.Default(),
		memory:  DefaultMemory,
	}
	for _, opt := range opts {
		opt(p)
	}

	queued, err := lru.New[string, struct{}](p.memory)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller memory: %w", err)
	}
	p.queued = queued
	p.logger = p.logger.With("source", source.Name())
	return p, nil
}

// Poll fetches the source once and queues new entries.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	entries, err := p.source.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}

	result := Result{Fetched: len(entries)}
	for _, entry := range entries {
		if entry.Err != nil {
			result.Failed++
			p.logger.Error("failed to render entry", "entry_id", entry.ID, "error", entry.Err)
			continue
		}
		if p.seen(ctx, entry.ID) {
			result.Skipped++
			continue
		}

		if _, err := p.pusher.Push(ctx, entry.Event, p.source.Name()+"-poller"); err != nil {
			return result, fmt.Errorf("failed to queue %s: %w", entry.ID, err)
		}
		p.queued.Add(entry.ID, struct{}{})
		result.Queued++
	}

	p.logger.Info("source polled",
		"fetched", result.Fetched,
		"queued", result.Queued,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"remembered", p.queued.Len(),
	)
	return result, nil
}

func (p *Poller) seen(ctx context.Context, id string) bool {
	if p.queued.Contains(id) {
		return true
	}
	if p.records == nil {
		return false
	}

	rec, err := p.records.Get(ctx, id)
	if err != nil {
		// Queue it anyway; the tracker upsert is idempotent.
		p.logger.Warn("failed to check tracked record", "entry_id", id, "error", err)
		return false
	}
	return rec != nil
}

// Run polls every interval until ctx is cancelled. Poll failures are
// logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
