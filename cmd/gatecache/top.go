package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pario-ai/gatecache/pkg/analytics"
	"github.com/pario-ai/gatecache/pkg/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newTopCmd() *cobra.Command {
	var (
		configPath string
		gateway    string
		interval   time.Duration
		recent     int
		once       bool
		reset      bool
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live view of gateway traffic, cost and savings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c := newGatewayClient(gateway, cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if reset {
				if err := c.ResetMetrics(ctx); err != nil {
					return err
				}
			}

			interactive := term.IsTerminal(int(os.Stdout.Fd()))
			if once {
				return refreshTop(ctx, os.Stdout, c, recent, false)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := refreshTop(ctx, os.Stdout, c, recent, interactive); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	cmd.Flags().StringVar(&gateway, "gateway", "", "gateway address (default: the config's listen address)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent requests to show")
	cmd.Flags().BoolVar(&once, "once", false, "print one snapshot and exit")
	cmd.Flags().BoolVar(&reset, "reset", false, "reset live gateway analytics before watching")
	return cmd
}

func refreshTop(ctx context.Context, out io.Writer, c *client.Client, recent int, clear bool) error {
	m, err := c.Metrics(ctx, recent)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if clear {
		fmt.Fprint(out, "\033[H\033[2J")
	}
	renderTop(out, c.BaseURL(), m)
	return nil
}

func renderTop(out io.Writer, base string, m client.Metrics) {
	fmt.Fprintf(out, "gatecache %s  up since %s\n\n", base, m.Since.Format(time.Kitchen))
	fmt.Fprintf(out, "requests %d  hits %d  misses %d  failed %d  hit rate %.1f%%\n",
		m.TotalRequests, m.Hits, m.Misses, m.Failures, m.HitRate*100)
	fmt.Fprintf(out, "cost $%.4f  would-be $%.4f  saved $%.4f  prompt cache $%.4f\n\n",
		m.TotalCost.USD(), m.TotalWouldBeCost.USD(), m.TotalSavings.USD(), m.PromptCacheSavings.USD())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tREQUESTS\tHIT RATE\tCOST\tSAVINGS\tSHARE")
	for _, k := range sortedKeys(m.ByTier) {
		a := m.ByTier[k]
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t$%.4f\t$%.4f\t%.1f%%\n",
			k, a.Requests, a.HitRate*100, a.Cost.USD(), a.Savings.USD(), a.CostShare*100)
	}
	_ = w.Flush()

	if len(m.Recent) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOUTCOME\tPROVIDER\tMODEL\tTOKENS\tCOST\tLATENCY")
	for _, r := range m.Recent {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t$%.4f\t%dms\n",
			r.Time.Format("15:04:05"), r.Outcome, firstNonEmpty(r.Provider, "-"), r.Model,
			r.Usage.InputTokens+r.Usage.OutputTokens, r.Cost.USD(), r.LatencyMs)
	}
	_ = w.Flush()
}

func sortedKeys(m map[string]analytics.Aggregate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
