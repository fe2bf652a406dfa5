package advisory

import (
	"context"
	"fmt"

	"github.com/zero-day-ai/responder/poll"
)

// Feed adapts a Source for a poll.Poller, rendering each item as an
// advisory-feed event.
type Feed struct {
	source Source
}

// NewFeed creates a Feed over source.
func NewFeed(source Source) *Feed {
	return &Feed{source: source}
}

// Name implements poll.Source.
func (f *Feed) Name() string {
	return "advisory"
}

// Fetch implements poll.Source.
func (f *Feed) Fetch(ctx context.Context) ([]poll.Entry, error) {
	items, err := f.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]poll.Entry, 0, len(items))
	for _, item := range items {
		entry := poll.Entry{ID: item.ID}
		if item.ID == "" {
			entry.Err = fmt.Errorf("advisory %q has no id", item.Title)
		} else {
			entry.Event, entry.Err = Event(item)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
