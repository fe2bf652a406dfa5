package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/responder/config"
	"github.com/zero-day-ai/responder/intake"
	"github.com/zero-day-ai/responder/pipeline"
	"github.com/zero-day-ai/responder/poll"
	"github.com/zero-day-ai/responder/telemetry"
	"github.com/zero-day-ai/responder/tracker"
)

func newProcessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process [event.json|-]",
		Short: "Process one event in this process and print its summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readEvent(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			ctrl, err := a.controller(cmd.Context(), nil)
			if err != nil {
				return err
			}

			summary := ctrl.Process(cmd.Context(), raw)
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return summaryError(summary)
		},
	}
}

func newSubmitCommand() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit [event.json|-]",
		Short: "Queue an event for the workers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readEvent(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			q, err := a.intakeQueue()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var outcomes <-chan intake.Outcome
			if wait {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
				if outcomes, err = q.SubscribeOutcomes(ctx); err != nil {
					return err
				}
			}

			env, err := q.Push(ctx, raw, "cli")
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(cmd.OutOrStdout(), map[string]string{"envelope_id": env.ID})
			}

			for {
				select {
				case <-ctx.Done():
					return fmt.Errorf("no outcome for envelope %s within %s", env.ID, timeout)
				case outcome, ok := <-outcomes:
					if !ok {
						return fmt.Errorf("outcome subscription closed")
					}
					// A cancelled delivery is requeued; keep waiting for the
					// worker that finishes it.
					if outcome.EnvelopeID != env.ID || outcome.Summary.State == pipeline.StateCancelled {
						continue
					}
					if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
						return err
					}
					return summaryError(outcome.Summary)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for a worker to publish the outcome")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long --wait waits")
	return cmd
}

func newAdvisoriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advisories",
		Short: "Advisory feed operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "poll",
		Short: "Fetch the advisory feed once and queue new advisories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			poller, err := a.advisoryPoller(cmd.Context())
			if err != nil {
				return err
			}
			return pollOnce(cmd, poller)
		},
	})
	return cmd
}

func newFindingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Detection engine operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "poll",
		Short: "Fetch active GuardDuty findings once and queue new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			poller, err := a.findingsPoller(cmd.Context())
			if err != nil {
				return err
			}
			return pollOnce(cmd, poller)
		},
	})
	return cmd
}

func pollOnce(cmd *cobra.Command, poller *poll.Poller) error {
	result, err := poller.Poll(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func newRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Advisory record operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <finding-id>",
		Short: "Print the advisory record for a finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			tr, err := a.advisoryTracker(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := tr.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no record for finding %s", args[0])
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	})
	cmd.AddCommand(newRecordListCommand())
	return cmd
}

func newRecordListCommand() *cobra.Command {
	var (
		status string
		open   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List advisory records",
		RunE: func(cmd *cobra.Command, args []string) error {
			var want tracker.Status
			if status != "" {
				s, err := tracker.ParseStatus(status)
				if err != nil {
					return err
				}
				want = s
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			tr, err := a.advisoryTracker(cmd.Context())
			if err != nil {
				return err
			}
			records, err := tr.List(cmd.Context(), want)
			if err != nil {
				return err
			}
			out := make([]tracker.AdvisoryRecord, 0, len(records))
			for _, rec := range records {
				if open && rec.Status.IsTerminal() {
					continue
				}
				out = append(out, rec)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only records in this status")
	cmd.Flags().BoolVar(&open, "open", false, "only records that still need attention")
	return cmd
}

func newReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <finding-id>",
		Short: "Undo the isolation recorded for a finding",
		Long: `Release restores the resource isolated for a finding: an EC2 instance gets
back the security groups it had before quarantine, a pod loses the quarantine
label. The advisory record is marked released.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			ctx := cmd.Context()
			tr, err := a.advisoryTracker(ctx)
			if err != nil {
				return err
			}
			rec, err := tr.Get(ctx, args[0])
			if err != nil {
				return err
			}
			switch {
			case rec == nil:
				return fmt.Errorf("no record for finding %s", args[0])
			case rec.Status != tracker.StatusRemediated:
				return fmt.Errorf("finding %s is %s, not remediated", args[0], rec.Status)
			case rec.ResourceRef == "":
				return fmt.Errorf("finding %s has no resource to release", args[0])
			}

			d, err := a.dispatcher(ctx)
			if err != nil {
				return err
			}
			result, err := d.Release(ctx, rec.ResourceRef, rec.PreviousGroups)
			if err != nil {
				return err
			}
			if !result.DryRun {
				if err := tr.Resolve(ctx, rec.FindingID, tracker.StatusReleased, "released by operator"); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newDeadLettersCommand() *cobra.Command {
	var count int64

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List events that could not be processed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			q, err := a.intakeQueue()
			if err != nil {
				return err
			}
			letters, err := q.DeadLetters(cmd.Context(), count)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), letters)
		},
	}

	cmd.Flags().Int64Var(&count, "count", 20, "number of entries to show")
	return cmd
}

func newHealthCommand() *cobra.Command {
	var feed bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check dependencies once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			checker, err := a.healthChecker(cmd.Context(), feed)
			if err != nil {
				return err
			}
			report := checker.Run(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.IsUnhealthy() {
				return fmt.Errorf("%s", report.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&feed, "feed", false, "also check the advisory feed endpoint")
	return cmd
}

// summaryError reports an event that did not end cleanly.
func summaryError(s pipeline.Summary) error {
	if !s.State.IsTerminal() {
		return fmt.Errorf("event stopped in state %s", s.State)
	}
	if s.State == pipeline.StateFailed || s.State == pipeline.StateCancelled {
		if s.ErrorCode != "" {
			return fmt.Errorf("event ended %s: %s", s.State, s.ErrorCode)
		}
		return fmt.Errorf("event ended %s", s.State)
	}
	if failed := s.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, o := range failed {
			names[i] = fmt.Sprintf("%s (%s)", o.Action, o.ErrorCode)
		}
		return fmt.Errorf("event ended %s: %s failed", s.State, strings.Join(names, ", "))
	}
	return nil
}

// readEvent reads the event from the named file, or stdin for "-" or no argument.
func readEvent(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read event from stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func endpointOf(c *config.TelemetryConfig) string {
	if c == nil {
		return ""
	}
	return c.Endpoint
}

func serviceNameOf(c *config.TelemetryConfig) string {
	if c == nil || c.ServiceName == "" {
		return telemetry.ServiceName
	}
	return c.ServiceName
}
