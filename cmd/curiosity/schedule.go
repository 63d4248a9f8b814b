package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/curiosity/internal/logging"
	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/pipeline"
	"github.com/abelbrown/curiosity/internal/scheduler"
	"github.com/abelbrown/curiosity/internal/store"
)

const weeklyJob = "weekly-run"

func scheduleCmd(g *globalFlags) *cobra.Command {
	var (
		inputs  []string
		now     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline every week on the configured cron schedule",
		Long: `Stay in the foreground and run the pipeline on schedule.cron (default
"0 6 * * 1", Mondays 06:00 in schedule.timezone). Each run analyses the ISO
week that has just ended, re-reading the input files every time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return errors.New("at least one --input file is required")
			}

			e, err := openEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()

			sched, err := scheduler.New(e.cfg.Schedule.Timezone)
			if err != nil {
				return err
			}
			sched.SetJobTimeout(timeout)

			job := weeklyRunJob(e, pipeline.Build(e.cfg, e.store, e.events), inputs, time.Now)
			if err := sched.AddJob(weeklyJob, e.cfg.Schedule.Cron, job); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched.Start(ctx)
			if next, err := sched.NextRun(e.cfg.Schedule.Cron, time.Now()); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled %q for tenant %s; next run %s\n",
					e.cfg.Schedule.Cron, e.cfg.Tenant, next.Format(time.RFC1123))
			}

			if now {
				if err := sched.RunNow(weeklyJob, job); err != nil {
					logging.Error("immediate run failed", "error", err)
					fmt.Fprintf(cmd.ErrOrStderr(), "immediate run failed: %v\n", err)
				}
			}

			<-ctx.Done()
			fmt.Fprintln(cmd.OutOrStdout(), "stopping scheduler, waiting for running jobs...")
			<-sched.Stop().Done()
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "question file (YAML or JSON); repeatable")
	cmd.Flags().BoolVar(&now, "now", false, "also run once immediately")
	cmd.Flags().DurationVar(&timeout, "timeout", scheduler.DefaultJobTimeout, "maximum duration of one run (0 disables)")
	return cmd
}

// weeklyRunJob analyses the ISO week before the one containing clock().
// A run that already exists for that week is logged, not treated as failure.
func weeklyRunJob(e *env, pl *pipeline.Pipeline, inputs []string, clock func() time.Time) scheduler.Job {
	return func(ctx context.Context) error {
		week := model.WeekOf(clock()).Prev()

		questions, err := collect(ctx, inputs, week)
		if err != nil {
			return err
		}

		res, err := pl.Run(ctx, e.cfg.Tenant, week, questions)
		if errors.Is(err, store.ErrRunLimit) {
			logging.Info("weekly run skipped: already ran", "tenant", e.cfg.Tenant, "week", week)
			return nil
		}
		if res != nil && res.Run != nil {
			logging.Info("weekly run finished",
				"run", res.Run.ID,
				"week", week,
				"status", res.Run.Status,
				"clusters", res.Run.ClustersCreated,
				"signals", res.Run.SignalsDetected)
		}
		return err
	}
}
