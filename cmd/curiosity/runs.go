package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/curiosity/internal/ui"
)

func runsCmd(g *globalFlags) *cobra.Command {
	var (
		limit      int
		allTenants bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(g)
			if err != nil {
				return err
			}
			defer e.Close()

			tenant := e.cfg.Tenant
			if allTenants {
				tenant = ""
			}
			runs, err := e.store.ListRuns(cmd.Context(), tenant, limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.RenderRuns(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	cmd.Flags().BoolVar(&allTenants, "all-tenants", false, "list runs of every tenant")
	return cmd
}
