package pipeline

import (
	"context"
	"time"
)

// Observer receives instrumentation callbacks from the Controller.
// Implementations must be safe for concurrent use.
type Observer interface {
	// StartAction is called before an action's first attempt. The returned
	// context is used for the action; finish is called once with its outcome.
	StartAction(ctx context.Context, findingID string, action ActionName) (context.Context, func(ActionOutcome))

	// EventProcessed is called once per event with its summary.
	EventProcessed(ctx context.Context, summary Summary, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) StartAction(ctx context.Context, _ string, _ ActionName) (context.Context, func(ActionOutcome)) {
	return ctx, func(ActionOutcome) {}
}

func (nopObserver) EventProcessed(context.Context, Summary, time.Duration) {}
