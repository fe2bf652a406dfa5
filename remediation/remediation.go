package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/zero-day-ai/responder/responderr"
)

// Action is a remediation action a Controller can perform.
type Action string

const (
	// ActionIsolate removes the resource's network reachability.
	ActionIsolate Action = "isolate"

	// ActionRelease lifts an earlier isolation.
	ActionRelease Action = "release"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Result is the outcome of one remediation. It is not persisted.
type Result struct {
	Success         bool   `json:"success"`
	ResourceRef     string `json:"resource"`
	ErrorDetail     string `json:"error_detail,omitempty"`
	AlreadyIsolated bool   `json:"already_isolated,omitempty"`
	Controller      string `json:"controller,omitempty"`

	// DryRun is set when the controller only logged the action.
	DryRun bool `json:"dry_run,omitempty"`

	// PreviousGroups are the security groups an instance had before it was
	// quarantined. Release needs them to restore access.
	PreviousGroups []string `json:"previous_groups,omitempty"`
}

// Controller isolates resources of one kind. Isolate must be idempotent and
// safe to call concurrently for the same resource.
//
// Errors should be *responderr.Error values with codes RESOURCE_NOT_FOUND,
// UNSUPPORTED_RESOURCE, REMEDIATION_REJECTED or TRANSIENT_REMEDIATION.
type Controller interface {
	Name() string
	Isolate(ctx context.Context, ref string) (Result, error)
}

// Releaser is implemented by controllers that can undo an isolation.
// previousGroups is what Isolate reported in Result.PreviousGroups.
type Releaser interface {
	Release(ctx context.Context, ref string, previousGroups []string) (Result, error)
}

// Dispatcher executes remediation actions through a Controller.
type Dispatcher struct {
	controller Controller
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each call into the controller. Default: 30s.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRateLimit caps the rate of calls into the controller.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(d *Dispatcher) {
		d.limiter = limiter
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher over controller.
func NewDispatcher(controller Controller, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		controller: controller,
		timeout:    30 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Remediate isolates ref and reports the outcome. action must be
// ActionIsolate; use Release to undo an isolation.
//
// The returned error is always a *responderr.Error. Failures the controller
// could not classify are reported as TRANSIENT_REMEDIATION so the caller's
// retry policy gets a bounded number of further attempts.
func (d *Dispatcher) Remediate(ctx context.Context, ref string, action Action) (Result, error) {
	if action != ActionIsolate {
		err := responderr.UnsupportedResource(ref, fmt.Sprintf("unsupported action %q", action))
		return Result{ResourceRef: ref, Controller: d.controller.Name(), ErrorDetail: err.Error()}, err
	}
	return d.dispatch(ctx, ref, action, d.controller.Isolate)
}

// Release restores ref's access using the groups recorded when it was
// isolated. The controller must implement Releaser.
func (d *Dispatcher) Release(ctx context.Context, ref string, previousGroups []string) (Result, error) {
	releaser, ok := d.controller.(Releaser)
	if !ok {
		err := responderr.UnsupportedResource(ref, fmt.Sprintf("controller %s cannot release resources", d.controller.Name()))
		return Result{ResourceRef: ref, Controller: d.controller.Name(), ErrorDetail: err.Error()}, err
	}
	return d.dispatch(ctx, ref, ActionRelease, func(ctx context.Context, ref string) (Result, error) {
		return releaser.Release(ctx, ref, previousGroups)
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, ref string, action Action, call func(context.Context, string) (Result, error)) (Result, error) {
	result := Result{ResourceRef: ref, Controller: d.controller.Name()}

	if ref == "" {
		err := responderr.UnsupportedResource(ref, "empty resource reference")
		result.ErrorDetail = err.Error()
		return result, err
	}

	logger := d.logger.With("resource", ref, "action", action, "controller", d.controller.Name())

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(callCtx); err != nil {
			werr := responderr.TransientRemediation(ref, fmt.Errorf("rate limit: %w", err))
			result.ErrorDetail = werr.Error()
			return result, werr
		}
	}

	start := time.Now()
	out, err := call(callCtx, ref)
	if err != nil {
		err = classify(ref, err)
		result.ErrorDetail = err.Error()
		logger.Warn("remediation failed",
			"code", responderr.CodeOf(err),
			"duration", time.Since(start),
			"error", err,
		)
		return result, err
	}

	out.ResourceRef = ref
	if out.Controller == "" {
		out.Controller = result.Controller
	}
	out.Success = true
	logger.Info("remediation completed",
		"already_isolated", out.AlreadyIsolated,
		"dry_run", out.DryRun,
		"duration", time.Since(start),
	)
	return out, nil
}

// classify ensures err carries a responderr code.
func classify(ref string, err error) error {
	var re *responderr.Error
	if errors.As(err, &re) {
		return err
	}
	return responderr.TransientRemediation(ref, err)
}
