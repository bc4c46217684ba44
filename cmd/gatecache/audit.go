package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/gatecache/pkg/audit"
	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the request audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		opts       models.AuditQueryOpts
		outcome    string
		since      string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditFromPath(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts.Outcome = models.Outcome(outcome)
			if opts.Since, err = parseDate(since, time.Time{}); err != nil {
				return err
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	cmd.Flags().StringVar(&opts.Model, "model", "", "filter by model")
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "filter by provider")
	cmd.Flags().StringVar(&opts.Project, "project", "", "filter by project")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (hit, miss, failed)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var (
		configPath string
		requestID  string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit entry by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditFromPath(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Printf("Request ID:    %s\n", e.RequestID)
			fmt.Printf("Model:         %s\n", e.Model)
			fmt.Printf("Provider:      %s\n", firstNonEmpty(e.Provider, "-"))
			fmt.Printf("Tier:          %s\n", e.Tier)
			fmt.Printf("Outcome:       %s\n", e.Outcome)
			if e.ErrorKind != "" {
				fmt.Printf("Error:         %s\n", e.ErrorKind)
			}
			if e.CredentialPrefix != "" {
				fmt.Printf("Credential:    %s (%s)\n", e.CredentialPrefix, e.CredentialOrigin)
			}
			fmt.Printf("Agent:         %s\n", firstNonEmpty(e.Agent, "-"))
			fmt.Printf("Project:       %s\n", firstNonEmpty(e.Project, "-"))
			fmt.Printf("Stream:        %t\n", e.Stream)
			fmt.Printf("Status:        %d\n", e.StatusCode)
			fmt.Printf("Latency:       %dms\n", e.LatencyMs)
			fmt.Printf("Tokens:        %d in / %d out / %d cache write / %d cache read\n",
				e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.CacheWriteTokens, e.Usage.CacheReadTokens)
			fmt.Printf("Cost:          $%.6f (saved $%.6f)\n", e.Cost.USD(), e.Savings.USD())
			fmt.Printf("Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			if e.RequestBody != "" {
				fmt.Printf("\n--- Request Body ---\n%s\n", e.RequestBody)
			}
			if e.ResponseBody != "" {
				fmt.Printf("\n--- Response Body ---\n%s\n", e.ResponseBody)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit log statistics by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditFromPath(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditFromPath(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	return cmd
}

func openAuditFromPath(configPath string) (*audit.Logger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	return openAuditLogger(cfg)
}

func openAuditLogger(cfg *config.Config) (*audit.Logger, func(), error) {
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = cfg.DBPath
	}
	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-25s %-10s %-7s %6s %8s %10s %-20s\n",
		"REQUEST ID", "MODEL", "PROVIDER", "OUTCOME", "STATUS", "LATENCY", "COST", "TIME")
	b.WriteString(strings.Repeat("-", 132) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-25s %-10s %-7s %6d %6dms $%9.4f %-20s\n",
			e.RequestID, e.Model, firstNonEmpty(e.Provider, "-"), e.Outcome, e.StatusCode,
			e.LatencyMs, e.Cost.USD(),
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-12s %8s %12s\n", "MODEL", "DAY", "COUNT", "COST")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-25s %-12s %8d $%11.4f\n", s.Model, s.Day, s.Count, s.Cost.USD())
	}
	return b.String()
}
