package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pario-ai/gatecache/pkg/cache/sqlite"
	"github.com/pario-ai/gatecache/pkg/client"
	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/spf13/cobra"
)

// newGatewayClient returns a client for addr, or for the config's listen
// address when addr is empty.
func newGatewayClient(addr string, cfg *config.Config) *client.Client {
	return client.New(firstNonEmpty(addr, cfg.Listen))
}

func newCacheCmd() *cobra.Command {
	var (
		configPath string
		gateway    string
	)

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	cmd.PersistentFlags().StringVar(&gateway, "gateway", "", "gateway address (default: the config's listen address)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics from a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			stats, err := newGatewayClient(gateway, cfg).CacheStats(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Tier:\t%s\n", firstNonEmpty(stats.Tier, "memory"))
			fmt.Fprintf(w, "Entries:\t%d / %d\n", stats.Entries, stats.MaxEntries)
			fmt.Fprintf(w, "Bytes:\t%d / %d\n", stats.Bytes, stats.CapacityBytes)
			fmt.Fprintf(w, "Hits:\t%d\n", stats.Hits)
			fmt.Fprintf(w, "Misses:\t%d\n", stats.Misses)
			fmt.Fprintf(w, "Hit rate:\t%.1f%%\n", stats.HitRate*100)
			fmt.Fprintf(w, "Evictions:\t%d\n", stats.Evictions)
			fmt.Fprintf(w, "Expirations:\t%d\n", stats.Expirations)
			return w.Flush()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached response from a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			res, err := newGatewayClient(gateway, cfg).ClearCache(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d entries (%d bytes).\n", res.EntriesRemoved, res.BytesFreed)
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired rows from the SQLite cache tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Cache.Tier.Backend != config.BackendSQLite {
				fmt.Println("The SQLite cache tier is not configured.")
				return nil
			}

			t, err := sqlite.New(tierPath(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = t.Close() }()

			ctx := context.Background()
			deleted, err := t.Prune(ctx)
			if err != nil {
				return err
			}
			rows, size, err := t.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d expired entries; %d entries (%d bytes) remain.\n", deleted, rows, size)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, pruneCmd)
	return cmd
}
