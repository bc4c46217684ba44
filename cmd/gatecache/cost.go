package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/pario-ai/gatecache/pkg/pricing"
	"github.com/pario-ai/gatecache/pkg/tracker"
	"github.com/spf13/cobra"
)

func newCostCmd() *cobra.Command {
	var (
		configPath string
		project    string
		agent      string
		since      string
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show cost and savings by project, agent and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			sinceTime, err := parseDate(since, beginningOfMonth())
			if err != nil {
				return err
			}
			reports, err := tr.CostReport(context.Background(), sinceTime)
			if err != nil {
				return err
			}
			fmt.Print(formatCostTable(filterReports(reports, project, agent)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")

	cmd.AddCommand(newCostPricesCmd(&configPath), newCostEstimateCmd(&configPath))
	return cmd
}

func newCostPricesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "List the price table in USD per million tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tINPUT\tOUTPUT\tCACHE WRITE\tCACHE READ")
			for _, e := range pricingTable(cfg).Entries() {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.3f\n",
					e.Model, e.Provider, e.Input, e.Output, e.CacheWrite, e.CacheRead)
			}
			return w.Flush()
		},
	}
}

func newCostEstimateCmd(configPath *string) *cobra.Command {
	var (
		model string
		usage models.Usage
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Price a token count against the price table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				return fmt.Errorf("--model is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			entry, err := pricingTable(cfg).Lookup(model)
			if err != nil {
				return err
			}
			fmt.Printf("Model:          %s (%s)\n", entry.Model, entry.Provider)
			fmt.Printf("Cost:           $%.6f\n", pricing.CostNanos(usage, entry).USD())
			if usage.CacheReadTokens > 0 {
				fmt.Printf("Prompt caching: $%.6f saved\n", pricing.PromptCacheSavings(usage, entry).USD())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model name or tier (opus, sonnet, haiku)")
	cmd.Flags().Int64Var(&usage.InputTokens, "input", 0, "input tokens")
	cmd.Flags().Int64Var(&usage.OutputTokens, "output", 0, "output tokens")
	cmd.Flags().Int64Var(&usage.CacheWriteTokens, "cache-write", 0, "cache write tokens")
	cmd.Flags().Int64Var(&usage.CacheReadTokens, "cache-read", 0, "cache read tokens")
	return cmd
}

func filterReports(reports []models.CostReport, project, agent string) []models.CostReport {
	if project == "" && agent == "" {
		return reports
	}
	out := reports[:0]
	for _, r := range reports {
		if project != "" && r.Project != project {
			continue
		}
		if agent != "" && r.Agent != agent {
			continue
		}
		out = append(out, r)
	}
	return out
}

func formatCostTable(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-15s %-15s %-25s %8s %6s %12s %10s %10s\n",
		"PROJECT", "AGENT", "MODEL", "REQUESTS", "HITS", "TOKENS", "COST", "SAVINGS")
	b.WriteString(strings.Repeat("-", 108) + "\n")

	var cost, savings models.Nanos
	for _, r := range reports {
		fmt.Fprintf(&b, "%-15s %-15s %-25s %8d %6d %12d $%9.4f $%9.4f\n",
			firstNonEmpty(r.Project, "(none)"),
			firstNonEmpty(r.Agent, "(none)"),
			r.Model, r.RequestCount, r.Hits, r.TotalTokens, r.Cost.USD(), r.Savings.USD())
		cost += r.Cost
		savings += r.Savings
	}
	b.WriteString(strings.Repeat("-", 108) + "\n")
	fmt.Fprintf(&b, "%86s $%9.4f $%9.4f\n", "TOTAL:", cost.USD(), savings.USD())
	return b.String()
}
