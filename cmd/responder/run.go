package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/responder/poll"
	"github.com/zero-day-ai/responder/serve"
	"github.com/zero-day-ai/responder/telemetry"
	"github.com/zero-day-ai/responder/worker"
)

func newRunCommand() *cobra.Command {
	var (
		workers    int
		advisories bool
		findings   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume findings from the intake queue",
		Long: `Run the worker pool until SIGINT or SIGTERM.

Each worker pops an event from the intake queue and runs it through the
pipeline. The gRPC health server runs alongside the pool, as do the advisory
feed poller (--advisories) and the GuardDuty findings poller (--guardduty).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tc := cfg.Telemetry
			shutdown, err := telemetry.Setup(ctx, telemetry.Config{
				Enabled:     tc != nil && tc.Enabled,
				Endpoint:    endpointOf(tc),
				Insecure:    tc != nil && tc.Insecure,
				ServiceName: serviceNameOf(tc),
			}, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					a.logger.Error("telemetry shutdown failed", "error", err)
				}
			}()

			metrics, err := telemetry.NewGlobalMetrics()
			if err != nil {
				return err
			}

			ctrl, err := a.controller(ctx, metrics)
			if err != nil {
				return err
			}
			q, err := a.intakeQueue()
			if err != nil {
				return err
			}
			if err := metrics.RegisterQueueDepth(q.Depth); err != nil {
				return err
			}

			var srv *serve.Server
			if cfg.Health.Enabled() {
				checker, err := a.healthChecker(ctx, advisories)
				if err != nil {
					return err
				}
				srv, err = serve.NewServer(&serve.Config{
					Address:       cfg.Health.GetAddress(),
					CheckInterval: cfg.Health.GetCheckInterval(),
				}, checker, a.logger)
				if err != nil {
					return err
				}
			}

			type scheduled struct {
				poller   *poll.Poller
				interval time.Duration
			}
			var pollers []scheduled
			if advisories {
				p, err := a.advisoryPoller(ctx)
				if err != nil {
					return err
				}
				pollers = append(pollers, scheduled{p, cfg.Advisory.GetPollInterval()})
			}
			if findings {
				p, err := a.findingsPoller(ctx)
				if err != nil {
					return err
				}
				pollers = append(pollers, scheduled{p, cfg.GuardDuty.GetPollInterval()})
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return worker.Run(ctx, q, ctrl, worker.Options{
					Concurrency:       firstPositive(workers, cfg.Worker.GetConcurrency()),
					ShutdownTimeout:   cfg.Worker.GetShutdownTimeout(),
					HeartbeatInterval: cfg.Worker.GetHeartbeatInterval(),
					MaxDeliveries:     cfg.Worker.GetMaxDeliveries(),
					Logger:            a.logger,
				})
			})
			if srv != nil {
				g.Go(func() error { return srv.Serve(ctx) })
			}
			for _, s := range pollers {
				g.Go(func() error { return s.poller.Run(ctx, s.interval) })
			}

			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker goroutines (default: worker.concurrency)")
	cmd.Flags().BoolVar(&advisories, "advisories", false, "also poll the advisory feed")
	cmd.Flags().BoolVar(&findings, "guardduty", false, "also poll GuardDuty for active findings")
	return cmd
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
