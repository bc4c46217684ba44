package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pario-ai/gatecache/pkg/budget"
	"github.com/pario-ai/gatecache/pkg/tracker"
	"github.com/spf13/cobra"
)

func newBudgetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect spend budgets",
	}

	var project string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			statuses, err := budget.New(cfg.Budget.Policies, tr).Status(context.Background(), firstNonEmpty(project, "*"))
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No budget policies found for this project.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tMODEL\tPERIOD\tMAX\tSPENT\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t$%.4f\t$%.4f\n",
					s.Policy.Project, firstNonEmpty(s.Policy.Model, "(all)"), s.Policy.Period,
					s.Policy.MaxUSD, s.Spent.USD(), s.Remaining.USD())
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&project, "project", "", "filter by project")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gatecache.yaml", "path to config file")
	cmd.AddCommand(statusCmd)
	return cmd
}
