package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"radar-backend/internal/bootstrap"
	"radar-backend/internal/health"
)

type buildFunc func(ctx context.Context) (*bootstrap.App, error)

func newRootCmd(build buildFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "radarctl",
		Short:         "Operate the relationship radar backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(sweepCmd(build))
	root.AddCommand(scheduleCmd(build))
	root.AddCommand(retryCmd(build))
	root.AddCommand(scoreCmd(build))
	root.AddCommand(enqueueCmd(build))
	return root
}

func sweepCmd(build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recalculate health for every active client once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd.Context())
			if err != nil {
				return err
			}
			report, err := app.Scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept clients=%d updated=%d failed=%d duration=%s\n",
				report.Clients, report.Updated, report.Failed, report.Duration.Round(time.Millisecond))
			if report.Failed > 0 {
				return fmt.Errorf("%d clients failed to recalculate", report.Failed)
			}
			return nil
		},
	}
}

func scheduleCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the health sweep on its cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := build(ctx)
			if err != nil {
				return err
			}
			if runNow, _ := cmd.Flags().GetBool("now"); runNow {
				if _, err := app.Scheduler.RunOnce(ctx); err != nil {
					return err
				}
			}
			if err := app.Scheduler.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sweep scheduled spec=%q next=%s\n",
				app.Scheduler.Spec(), app.Scheduler.Next().Format(time.RFC3339))
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout)
			defer cancel()
			return app.Scheduler.Stop(stopCtx)
		},
	}
	cmd.Flags().Bool("now", false, "run one sweep before waiting for the schedule")
	return cmd
}

func retryCmd(build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <tenant> <note>",
		Short: "Move a failed note back to pending and enqueue a fresh analysis",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd.Context())
			if err != nil {
				return err
			}
			job, err := app.NotesService.Retrigger(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued job=%s note=%s\n", job.ID, job.NoteID)
			return nil
		},
	}
}

func scoreCmd(build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "score <tenant> <client>",
		Short: "Recalculate and print one client's health",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd.Context())
			if err != nil {
				return err
			}
			h, err := app.HealthService.Recalculate(cmd.Context(), args[0], args[1], health.TriggerManual)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(h)
		},
	}
}

func enqueueCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue [<tenant> <note>]",
		Short: "Send a first-attempt job for a pending note, or for every pending note with --pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, _ := cmd.Flags().GetBool("pending")
			if (pending && len(args) != 0) || (!pending && len(args) != 2) {
				return errors.New("pass <tenant> <note>, or --pending with no arguments")
			}
			app, err := build(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !pending {
				job, err := app.NotesService.Enqueue(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "enqueued job=%s note=%s\n", job.ID, job.NoteID)
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			stuck, err := app.Store.PendingNotes(cmd.Context(), limit)
			if err != nil {
				return err
			}
			var failed int
			for _, n := range stuck {
				job, err := app.NotesService.Enqueue(cmd.Context(), n.TenantID, n.ID)
				if err != nil {
					failed++
					fmt.Fprintf(out, "skip note=%s: %v\n", n.ID, err)
					continue
				}
				fmt.Fprintf(out, "enqueued job=%s note=%s\n", job.ID, job.NoteID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pending notes were not enqueued", failed, len(stuck))
			}
			return nil
		},
	}
	cmd.Flags().Bool("pending", false, "enqueue every pending note")
	cmd.Flags().Int("limit", 100, "maximum pending notes to enqueue")
	return cmd
}
