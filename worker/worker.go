package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/responder/intake"
	"github.com/zero-day-ai/responder/pipeline"
	"github.com/zero-day-ai/responder/responderr"
)

// Processor runs one raw event. *pipeline.Controller satisfies it.
type Processor interface {
	Process(ctx context.Context, raw []byte) pipeline.Summary
}

// Options configures the pool.
type Options struct {
	// Concurrency is the number of worker goroutines. Default: 4.
	Concurrency int

	// ShutdownTimeout bounds how long in-flight events may run after
	// shutdown begins. Default: 30s.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the worker health key is refreshed.
	// Default: 10s.
	HeartbeatInterval time.Duration

	// MaxDeliveries caps redeliveries of cancelled events before they are
	// dead-lettered. Default: 5.
	MaxDeliveries int

	// WorkerID overrides the generated hostname-pid-uuid identifier.
	WorkerID string

	// Logger is the structured logger. If nil, a JSON logger on stdout is used.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	if o.WorkerID == "" {
		o.WorkerID = generateWorkerID()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return o
}

// Run starts the pool and blocks until ctx is cancelled or the process
// receives SIGTERM or SIGINT. It then waits up to ShutdownTimeout for
// in-flight events before returning.
func Run(ctx context.Context, q intake.Queue, p Processor, opts Options) error {
	opts = opts.withDefaults()

	logger := opts.Logger.With("worker_id", opts.WorkerID)
	logger.Info("worker starting", "concurrency", opts.Concurrency)

	// popCtx stops the loops; processCtx outlives it by ShutdownTimeout.
	popCtx, stopPopping := context.WithCancel(ctx)
	defer stopPopping()
	processCtx, cancelProcessing := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelProcessing()

	if err := q.IncrementWorkerCount(popCtx, opts.Concurrency); err != nil {
		logger.Error("failed to increment worker count", "error", err)
	}
	defer func() {
		// Use background context for cleanup since ctx may be cancelled
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		if err := q.DecrementWorkerCount(cleanupCtx, opts.Concurrency); err != nil {
			logger.Error("failed to decrement worker count", "error", err)
		}
	}()

	go runHeartbeat(popCtx, q, opts.WorkerID, opts.HeartbeatInterval, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			l := &loop{
				queue:         q,
				processor:     p,
				workerID:      opts.WorkerID,
				maxDeliveries: opts.MaxDeliveries,
				logger:        logger.With("worker_num", workerNum),
			}
			l.run(popCtx, processCtx)
		}(i)
	}

	logger.Info("worker started", "workers", opts.Concurrency)

	select {
	case sig := <-sigChan:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, initiating graceful shutdown")
	}

	stopPopping()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		logger.Info("worker shutdown complete")
	case <-time.After(opts.ShutdownTimeout):
		logger.Warn("worker shutdown timeout exceeded", "timeout", opts.ShutdownTimeout)
		cancelProcessing()
		<-doneChan
	}

	return nil
}

// runHeartbeat refreshes the worker health key until ctx is cancelled.
func runHeartbeat(ctx context.Context, q intake.Queue, workerID string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := q.Heartbeat(ctx, workerID); err != nil {
		logger.Debug("heartbeat failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Heartbeat(ctx, workerID); err != nil {
				// Heartbeat failures are transient
				logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

type loop struct {
	queue         intake.Queue
	processor     Processor
	workerID      string
	maxDeliveries int
	logger        *slog.Logger
}

// run pops envelopes until popCtx is cancelled. Events are processed under
// processCtx so in-flight work survives the start of a shutdown.
func (l *loop) run(popCtx, processCtx context.Context) {
	l.logger.Debug("worker loop started")

	for {
		if popCtx.Err() != nil {
			l.logger.Debug("worker loop stopped", "reason", "context_cancelled")
			return
		}

		env, err := l.queue.Pop(popCtx)
		if err != nil {
			if popCtx.Err() != nil {
				l.logger.Debug("worker loop stopped", "reason", "context_error")
				return
			}
			l.logger.Error("failed to pop envelope", "error", err)
			// Back off so a Redis outage does not spin the loop
			select {
			case <-popCtx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if env == nil {
			continue
		}

		l.handle(processCtx, *env)
	}
}

// handle processes one envelope and routes its outcome.
func (l *loop) handle(ctx context.Context, env intake.Envelope) {
	logger := l.logger.With("envelope_id", env.ID, "deliveries", env.Deliveries)
	logger.Debug("received envelope", "submitter", env.Submitter)

	startedAt := time.Now().UnixMilli()
	summary := l.processor.Process(ctx, env.Event)
	outcome := intake.Outcome{
		EnvelopeID:  env.ID,
		WorkerID:    l.workerID,
		Summary:     summary,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UnixMilli(),
	}

	// The processing context may already be gone; bookkeeping gets its own.
	opCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case summary.State == pipeline.StateFailed && summary.ErrorCode == responderr.CodeMalformedEvent:
		l.deadLetter(opCtx, env, summary.ErrorCode, summary.Error, logger)
	case summary.State == pipeline.StateCancelled:
		if env.Deliveries >= l.maxDeliveries {
			l.deadLetter(opCtx, env, responderr.CodeCancelled, fmt.Sprintf("cancelled on %d deliveries", env.Deliveries), logger)
			break
		}
		if err := l.queue.Requeue(opCtx, env); err != nil {
			logger.Error("failed to requeue cancelled event", "error", err)
		} else {
			logger.Info("requeued cancelled event", "finding_id", summary.FindingID)
		}
	}

	if err := l.queue.PublishOutcome(opCtx, outcome); err != nil {
		logger.Error("failed to publish outcome", "error", err)
	}

	logger.Info("envelope completed",
		"finding_id", summary.FindingID,
		"state", summary.State,
		"duration_ms", outcome.CompletedAt-outcome.StartedAt,
	)
}

func (l *loop) deadLetter(ctx context.Context, env intake.Envelope, code, reason string, logger *slog.Logger) {
	err := l.queue.DeadLetter(ctx, intake.DeadLetter{
		Envelope:  env,
		ErrorCode: code,
		Error:     reason,
		WorkerID:  l.workerID,
	})
	if err != nil {
		logger.Error("failed to dead-letter event", "error", err)
		return
	}
	logger.Warn("event dead-lettered", "code", code, "error", reason)
}

// generateWorkerID creates a unique identifier for this worker instance.
// Uses hostname + PID + UUID for uniqueness.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	pid := os.Getpid()

	// Add UUID suffix for additional uniqueness
	id := uuid.New().String()[:8]

	return fmt.Sprintf("%s-%d-%s", hostname, pid, id)
}
