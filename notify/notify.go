package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/zero-day-ai/responder/finding"
	"github.com/zero-day-ai/responder/responderr"
)

// MaxSubjectLength is the longest subject a Message carries. SNS requires
// subjects under 100 printable ASCII characters.
const MaxSubjectLength = 99

// Message is one alert.
type Message struct {
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
	FindingID string  `json:"finding_id"`
	Severity  float64 `json:"severity"`
}

// Channel delivers messages. Publish returns a channel-assigned message id.
type Channel interface {
	Name() string
	Publish(ctx context.Context, msg Message) (string, error)
	Close() error
}

// Result describes a delivered notification.
type Result struct {
	Channel   string `json:"channel"`
	MessageID string `json:"message_id,omitempty"`
	Subject   string `json:"subject"`
}

// Notifier renders findings and publishes them to its channel.
type Notifier struct {
	channel Channel
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithTimeout bounds each publish. Default: 10s.
func WithTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New creates a Notifier publishing to channel.
func New(channel Channel, opts ...Option) *Notifier {
	n := &Notifier{
		channel: channel,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify renders f and delivers it. reason is the triage reason and is
// included in the body for the reader.
func (n *Notifier) Notify(ctx context.Context, f finding.Finding, reason string) (Result, error) {
	msg := Render(f, reason)
	result := Result{Channel: n.channel.Name(), Subject: msg.Subject}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	id, err := n.channel.Publish(ctx, msg)
	if err != nil {
		var re *responderr.Error
		if !errors.As(err, &re) {
			err = responderr.NotificationDelivery(n.channel.Name(), err)
		}
		n.logger.Warn("notification failed",
			"finding_id", f.ID,
			"channel", n.channel.Name(),
			"error", err,
		)
		return result, err
	}

	result.MessageID = id
	n.logger.Info("notification sent",
		"finding_id", f.ID,
		"channel", n.channel.Name(),
		"message_id", id,
	)
	return result, nil
}

// Close closes the channel.
func (n *Notifier) Close() error {
	return n.channel.Close()
}

// Render builds the alert for f.
//
// The subject is "Security Alert: <title>", cut to MaxSubjectLength. The
// body always names the finding id, severity, source and reason, then the
// resource, posting date and link when the finding has them.
func Render(f finding.Finding, reason string) Message {
	var b strings.Builder

	fmt.Fprintf(&b, "Security Advisory: %s\n", f.DisplayTitle())
	fmt.Fprintf(&b, "Finding: %s\n", f.ID)
	fmt.Fprintf(&b, "Severity: %.1f (%s)\n", f.Severity, finding.BandFor(f.Severity))
	fmt.Fprintf(&b, "Source: %s\n", f.Source)
	if f.ResourceRef != "" {
		fmt.Fprintf(&b, "Resource: %s\n", f.ResourceRef)
	}
	if reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", reason)
	}
	if f.Detail != "" {
		fmt.Fprintf(&b, "\n%s\n\n", f.Detail)
	}
	if f.PublishedAt != "" {
		fmt.Fprintf(&b, "Posted on: %s\n", f.PublishedAt)
	}
	if f.Link != "" {
		fmt.Fprintf(&b, "Read more: %s\n", f.Link)
	}

	return Message{
		Subject:   subject(f.DisplayTitle()),
		Body:      strings.TrimRight(b.String(), "\n"),
		FindingID: f.ID,
		Severity:  f.Severity,
	}
}

// subject builds a single-line printable ASCII subject no longer than
// MaxSubjectLength. Whitespace becomes a single space; other non-ASCII and
// control characters are dropped.
func subject(title string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case r < 0x20 || r > 0x7e:
			return -1
		default:
			return r
		}
	}, title)

	s := strings.TrimSpace("Security Alert: " + strings.Join(strings.Fields(clean), " "))
	if len(s) <= MaxSubjectLength {
		return s
	}
	return s[:MaxSubjectLength-3] + "..."
}
