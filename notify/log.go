package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogChannel writes alerts to a structured logger. It is the default when
// no external channel is configured.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

// Name implements Channel.
func (c *LogChannel) Name() string {
	return "log"
}

// Publish implements Channel.
func (c *LogChannel) Publish(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.New().String()
	c.logger.Warn(msg.Subject,
		"message_id", id,
		"finding_id", msg.FindingID,
		"severity", msg.Severity,
		"body", msg.Body,
	)
	return id, nil
}

// Close is a no-op.
func (c *LogChannel) Close() error {
	return nil
}
