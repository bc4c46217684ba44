package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pario-ai/gatecache/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		groupBy    string
		since      string
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted usage, cost and savings",
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

			ctx := context.Background()

			if recent > 0 {
				recs, err := tr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No requests found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tOUTCOME\tPROVIDER\tMODEL\tTIER\tINPUT\tOUTPUT\tCOST\tSAVINGS\tLATENCY")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t$%.4f\t$%.4f\t%dms\n",
						r.Time.Format("2006-01-02T15:04:05"), r.Outcome, firstNonEmpty(r.Provider, "-"), r.Model, r.Tier,
						r.Usage.InputTokens, r.Usage.OutputTokens, r.Cost.USD(), r.Savings.USD(), r.LatencyMs)
				}
				return w.Flush()
			}

			sinceTime, err := parseDate(since, beginningOfMonth())
			if err != nil {
				return err
			}
			summaries, err := tr.Summary(ctx, strings.ToLower(groupBy), sinceTime)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "%s\tREQUESTS\tHITS\tFAILED\tINPUT\tOUTPUT\tCACHE WRITE\tCACHE READ\tCOST\tSAVINGS\n", strings.ToUpper(groupBy))
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t$%.4f\t$%.4f\n",
					firstNonEmpty(s.Key, "(none)"), s.RequestCount, s.Hits, s.Failures,
					s.Usage.InputTokens, s.Usage.OutputTokens, s.Usage.CacheWriteTokens, s.Usage.CacheReadTokens,
					s.Cost.USD(), s.Savings.USD())
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	cmd.Flags().StringVar(&groupBy, "group-by", "model", "group by model, provider, project, tier or agent")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent requests instead of a summary")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// parseDate reads a YYYY-MM-DD flag value, defaulting to fallback.
func parseDate(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
	}
	return t, nil
}
