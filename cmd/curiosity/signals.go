package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/store"
	"github.com/abelbrown/curiosity/internal/ui"
)

func signalsCmd(g *globalFlags) *cobra.Command {
	var (
		runID string
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Show the signals of a stored run",
		Long:  "Show the signals of --run, or of the tenant's latest completed run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()

			var run *model.Run
			if runID != "" {
				run, err = e.store.GetRun(ctx, runID)
			} else {
				run, err = e.store.LatestCompletedRun(ctx, e.cfg.Tenant)
			}
			if errors.Is(err, store.ErrNotFound) {
				if runID != "" {
					return fmt.Errorf("run %s not found", runID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "no completed runs for tenant %s\n", e.cfg.Tenant)
				return nil
			}
			if err != nil {
				return err
			}

			signals, err := e.store.ListSignals(ctx, run.ID)
			if err != nil {
				return err
			}
			if !all {
				signals = detectedOnly(signals)
			}

			fmt.Fprintln(cmd.OutOrStdout(), ui.HeaderStyle.Render(
				fmt.Sprintf("%s  %s  run %s  %s", run.Tenant, run.Week, run.ID, run.Status)))
			fmt.Fprint(cmd.OutOrStdout(), ui.RenderSignals(signals))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID (default latest completed run)")
	cmd.Flags().BoolVar(&all, "all", false, "include clusters below the signal threshold")
	return cmd
}

func detectedOnly(signals []model.Signal) []model.Signal {
	out := signals[:0:0]
	for _, s := range signals {
		if s.IsSignal {
			out = append(out, s)
		}
	}
	return out
}
