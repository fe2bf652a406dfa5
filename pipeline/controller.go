package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zero-day-ai/responder/finding"
	"github.com/zero-day-ai/responder/notify"
	"github.com/zero-day-ai/responder/remediation"
	"github.com/zero-day-ai/responder/responderr"
	"github.com/zero-day-ai/responder/retry"
	"github.com/zero-day-ai/responder/tracker"
	"github.com/zero-day-ai/responder/triage"
)

// Normalizer converts raw events into findings.
type Normalizer interface {
	Normalize(raw []byte) (*finding.Finding, error)
}

// Remediator isolates resources. *remediation.Dispatcher satisfies it.
type Remediator interface {
	Remediate(ctx context.Context, ref string, action remediation.Action) (remediation.Result, error)
}

// Notifier delivers alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, f finding.Finding, reason string) (notify.Result, error)
}

// Tracker records advisory state. *tracker.Tracker satisfies it.
type Tracker interface {
	Open(ctx context.Context, f finding.Finding) error
	Resolve(ctx context.Context, findingID string, status tracker.Status, reason string) error
	Isolated(ctx context.Context, findingID, reason string, previousGroups []string) error
}

// Dependencies are the collaborators a Controller drives. Remediator and
// Notifier may be nil when the matching triage toggle is off.
type Dependencies struct {
	Normalizer Normalizer
	Remediator Remediator
	Notifier   Notifier
	Tracker    Tracker
}

// Controller runs events through the pipeline. It is safe for concurrent
// use; workers share one Controller.
type Controller struct {
	normalizer Normalizer
	remediator Remediator
	notifier   Notifier
	tracker    Tracker

	triage   triage.Config
	policy   retry.Policy
	observer Observer
	logger   *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithTriageConfig sets the triage policy. Default: triage.DefaultConfig().
func WithTriageConfig(cfg triage.Config) Option {
	return func(c *Controller) {
		c.triage = cfg
	}
}

// WithRetryPolicy sets the retry policy applied to every action.
// Default: retry.DefaultPolicy().
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithObserver installs instrumentation.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Controller.
//
// It fails when a collaborator required by the triage configuration is
// missing: a Tracker is always required, a Remediator when remediation is
// enabled and a Notifier when notification is enabled.
func New(deps Dependencies, opts ...Option) (*Controller, error) {
	c := &Controller{
		normalizer: deps.Normalizer,
		remediator: deps.Remediator,
		notifier:   deps.Notifier,
		tracker:    deps.Tracker,
		triage:     triage.DefaultConfig(),
		policy:     retry.DefaultPolicy(),
		observer:   nopObserver{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.normalizer == nil {
		c.normalizer = finding.Normalizer{}
	}
	if c.tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if c.triage.RemediateEnabled && c.remediator == nil {
		return nil, fmt.Errorf("remediator is required when remediation is enabled")
	}
	if c.triage.NotifyEnabled && c.notifier == nil {
		return nil, fmt.Errorf("notifier is required when notification is enabled")
	}
	if c.policy.Retryable == nil {
		c.policy.Retryable = responderr.IsRetryable
	}

	return c, nil
}

// Process runs one raw event through the pipeline. It never panics on bad
// input and always returns a Summary in a terminal state.
func (c *Controller) Process(ctx context.Context, raw []byte) Summary {
	start := time.Now()

	var summary Summary
	if err := ctx.Err(); err != nil {
		summary = Summary{
			State:     StateCancelled,
			ErrorCode: responderr.CodeCancelled,
			Error:     err.Error(),
		}
	} else if f, err := c.normalizer.Normalize(raw); err != nil {
		c.logger.Warn("rejecting malformed event", "error", err)
		summary = Summary{
			State:     StateFailed,
			ErrorCode: responderr.CodeOf(err),
			Error:     err.Error(),
		}
	} else {
		summary = c.act(ctx, *f)
	}

	c.observer.EventProcessed(ctx, summary, time.Since(start))
	return summary
}

// ProcessFinding runs an already-normalized finding through triage and the
// selected actions.
func (c *Controller) ProcessFinding(ctx context.Context, f finding.Finding) Summary {
	start := time.Now()
	summary := c.act(ctx, f)
	c.observer.EventProcessed(ctx, summary, time.Since(start))
	return summary
}

func (c *Controller) act(ctx context.Context, f finding.Finding) Summary {
	logger := c.logger.With("finding_id", f.ID, "source", f.Source)

	verdict := triage.Evaluate(f, c.triage)
	logger.Info("finding triaged",
		"severity", f.Severity,
		"action", verdict.Action,
		"reason", verdict.Reason,
	)

	var (
		wg                   sync.WaitGroup
		remediated, notified ActionOutcome
		opened               ActionOutcome
		remediationResult    remediation.Result
		notificationResult   notify.Result
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		opened = c.run(ctx, f.ID, ActionTrack, func(ctx context.Context) (string, error) {
			return "", c.tracker.Open(ctx, f)
		})
	}()

	if verdict.Action.Remediates() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remediated = c.run(ctx, f.ID, ActionRemediate, func(ctx context.Context) (string, error) {
				res, err := c.remediator.Remediate(ctx, f.ResourceRef, remediation.ActionIsolate)
				if err != nil {
					return "", err
				}
				remediationResult = res
				if res.DryRun {
					return fmt.Sprintf("dry run: would isolate %s", f.ResourceRef), nil
				}
				if res.AlreadyIsolated {
					return fmt.Sprintf("%s already isolated", f.ResourceRef), nil
				}
				return fmt.Sprintf("isolated %s", f.ResourceRef), nil
			})
		}()
	} else {
		remediated = skipped(ActionRemediate, skipReason(f, verdict, c.triage.RemediateEnabled))
	}

	if verdict.Action.Notifies() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notified = c.run(ctx, f.ID, ActionNotify, func(ctx context.Context) (string, error) {
				res, err := c.notifier.Notify(ctx, f, verdict.Reason)
				if err != nil {
					return "", err
				}
				notificationResult = res
				return fmt.Sprintf("delivered via %s", res.Channel), nil
			})
		}()
	} else {
		notified = skipped(ActionNotify, skipReason(f, verdict, c.triage.NotifyEnabled))
	}

	wg.Wait()
	remediated.DryRun = remediationResult.DryRun

	tracked := c.resolve(ctx, f.ID, opened, remediated, notified, remediationResult.PreviousGroups)

	summary := Summary{
		FindingID:    f.ID,
		TriageAction: verdict.Action,
		Reason:       verdict.Reason,
		Outcomes:     []ActionOutcome{remediated, notified, tracked},
	}
	summary.State = terminalState(summary.Outcomes)

	attrs := []any{"state", summary.State}
	for _, o := range summary.Outcomes {
		attrs = append(attrs, string(o.Action), o.Status)
	}
	if remediationResult.Controller != "" {
		attrs = append(attrs, "controller", remediationResult.Controller)
	}
	if notificationResult.MessageID != "" {
		attrs = append(attrs, "message_id", notificationResult.MessageID)
	}
	if summary.State == StateDone {
		logger.Info("finding processed", attrs...)
	} else {
		logger.Warn("finding processed", attrs...)
	}

	return summary
}

// resolve records the final advisory status once the other actions are
// done and folds both tracking calls into one outcome.
func (c *Controller) resolve(ctx context.Context, findingID string, opened, remediated, notified ActionOutcome, previousGroups []string) ActionOutcome {
	status, reason, ok := resolution(remediated, notified)
	if !ok {
		return opened
	}

	resolved := c.run(ctx, findingID, ActionTrack, func(ctx context.Context) (string, error) {
		if status == tracker.StatusRemediated {
			return string(status), c.tracker.Isolated(ctx, findingID, reason, previousGroups)
		}
		return string(status), c.tracker.Resolve(ctx, findingID, status, reason)
	})

	tracked := resolved
	tracked.Attempts += opened.Attempts
	if opened.Status != OutcomeSucceeded && resolved.Status == OutcomeSucceeded {
		// The resolve upsert created the record the open call could not.
		tracked.Detail = fmt.Sprintf("%s after open failed: %s", resolved.Detail, opened.Error)
	}
	return tracked
}

// resolution picks the advisory status implied by the other outcomes.
// ok is false when the record should stay as it is. A dry-run remediation
// never marks the record remediated.
func resolution(remediated, notified ActionOutcome) (status tracker.Status, reason string, ok bool) {
	switch {
	case remediated.Status == OutcomeSucceeded && !remediated.DryRun:
		return tracker.StatusRemediated, remediated.Detail, true
	case remediated.Status == OutcomeFailed || notified.Status == OutcomeFailed:
		var parts []string
		for _, o := range []ActionOutcome{remediated, notified} {
			if o.Status == OutcomeFailed {
				parts = append(parts, fmt.Sprintf("%s: %s", o.Action, o.ErrorCode))
			}
		}
		return tracker.StatusFailed, strings.Join(parts, "; "), true
	case notified.Status == OutcomeSucceeded:
		return tracker.StatusNotified, notified.Detail, true
	default:
		return "", "", false
	}
}

// run executes fn under the retry policy and reports its outcome.
func (c *Controller) run(ctx context.Context, findingID string, action ActionName, fn func(ctx context.Context) (string, error)) ActionOutcome {
	ctx, finish := c.observer.StartAction(ctx, findingID, action)

	var detail string
	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		d, err := fn(ctx)
		if err != nil {
			c.logger.Debug("action attempt failed",
				"finding_id", findingID,
				"action", action,
				"attempt", attempt,
				"retryable", responderr.IsRetryable(err),
				"error", err,
			)
			return err
		}
		detail = d
		return nil
	})

	out := ActionOutcome{Action: action, Attempts: attempts, Detail: detail}
	switch {
	case err == nil:
		out.Status = OutcomeSucceeded
	case errors.Is(err, responderr.ErrCancelled):
		out.Status = OutcomeCancelled
	default:
		out.Status = OutcomeFailed
	}
	if err != nil {
		out.ErrorCode = responderr.CodeOf(err)
		out.Error = err.Error()
	}

	finish(out)
	return out
}

func skipped(action ActionName, reason string) ActionOutcome {
	return ActionOutcome{Action: action, Status: OutcomeSkipped, Detail: reason}
}

// skipReason explains why an action the verdict left out did not run.
func skipReason(f finding.Finding, verdict triage.Verdict, enabled bool) string {
	switch {
	case verdict.Action == triage.ActionNone:
		return verdict.Reason
	case !enabled:
		return "disabled by configuration"
	case !f.HasResource():
		return triage.ReasonNoResource
	default:
		return verdict.Reason
	}
}
