package remediation

import (
	"context"
	"log/slog"
)

// DryRunController logs isolation requests without touching any resource.
type DryRunController struct {
	logger *slog.Logger
}

// NewDryRunController creates a DryRunController.
func NewDryRunController(logger *slog.Logger) *DryRunController {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunController{logger: logger}
}

// Name implements Controller.
func (c *DryRunController) Name() string {
	return "dry-run"
}

// Isolate implements Controller.
func (c *DryRunController) Isolate(ctx context.Context, ref string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c.logger.Info("dry run: would isolate resource", "resource", ref, "kind", KindOf(ref))
	return Result{ResourceRef: ref, DryRun: true}, nil
}

// Release implements Releaser.
func (c *DryRunController) Release(ctx context.Context, ref string, previousGroups []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	c.logger.Info("dry run: would release resource", "resource", ref, "previous_groups", previousGroups)
	return Result{ResourceRef: ref, DryRun: true}, nil
}
