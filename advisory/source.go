package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Item is one advisory as published by the feed.
type Item struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Link       string `json:"link"`
	DatePosted string `json:"date_posted"`
}

// Source lists the advisories currently published by a feed.
type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// maxFeedBytes bounds the feed document read into memory.
const maxFeedBytes = 10 << 20

// HTTPSource reads a JSON feed of the form {"alerts":[{id,title,link,date_posted}]}.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source for url. Requests are traced with the
// global OpenTelemetry provider.
func NewHTTPSource(url string, timeout time.Duration) (*HTTPSource, error) {
	if url == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return ParseFeed(body)
}

// ParseFeed decodes a feed document. Items without an id are dropped.
func ParseFeed(data []byte) ([]Item, error) {
	var doc struct {
		Alerts []Item `json:"alerts"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	items := make([]Item, 0, len(doc.Alerts))
	for _, item := range doc.Alerts {
		if item.ID == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Event renders item as an inbound advisory-feed event. The severity is
// left out for the normalizer's severity rule to fill in.
func Event(item Item) ([]byte, error) {
	return json.Marshal(map[string]string{
		"id":     item.ID,
		"source": "advisory-feed",
		"title":  item.Title,
		"link":   item.Link,
		"date":   item.DatePosted,
	})
}
