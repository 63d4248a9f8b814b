package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/pipeline"
	"github.com/abelbrown/curiosity/internal/ui"
)

func runCmd(g *globalFlags) *cobra.Command {
	var (
		inputs  []string
		weekArg string
		useTUI  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyse one week of questions and print the signal report",
		Long: `Run the full pipeline for one tenant-week: normalize, embed, cluster,
score and correlate with news, then persist the run and print its report.

Input files are YAML or JSON lists of questions with platform, text,
upvotes, comments, views, created_at, url and an optional id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			week, err := resolveWeek(weekArg, time.Now())
			if err != nil {
				return err
			}

			e, err := openEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			questions, err := collect(ctx, inputs, week)
			if err != nil {
				return err
			}

			var res *pipeline.Result
			if useTUI {
				res, err = runWithProgress(ctx, e, week, questions)
			} else {
				res, err = pipeline.Build(e.cfg, e.store, e.events).Run(ctx, e.cfg.Tenant, week, questions)
			}
			if res != nil {
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderReport(res))
			}
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "question file (YAML or JSON); repeatable")
	cmd.Flags().StringVarP(&weekArg, "week", "w", "", "ISO week to analyse, e.g. 2026-W42 (default current week)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show live progress while the run executes")
	return cmd
}

type runOutcome struct {
	res *pipeline.Result
	err error
}

// runWithProgress runs the pipeline in the background while a bubbletea
// program renders its progress. Quitting the program cancels the run; the
// pipeline's result is always awaited.
func runWithProgress(ctx context.Context, e *env, week model.Week, questions []model.Question) (*pipeline.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(ui.NewRunModel(e.cfg.Tenant, week, e.ring, cancel))
	pl := pipeline.Build(e.cfg, e.store, e.events, pipeline.WithReporter(ui.NewProgramReporter(program)))

	done := make(chan runOutcome, 1)
	go func() {
		res, err := pl.Run(ctx, e.cfg.Tenant, week, questions)
		done <- runOutcome{res: res, err: err}
		program.Send(ui.RunFinished{Result: res, Err: err})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		out := <-done
		if out.err == nil {
			out.err = err
		}
		return out.res, out.err
	}

	out := <-done
	return out.res, out.err
}
