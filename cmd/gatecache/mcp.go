package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pario-ai/gatecache/pkg/budget"
	"github.com/pario-ai/gatecache/pkg/mcp"
	"github.com/pario-ai/gatecache/pkg/tracker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	var (
		configPath string
		gateway    string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve gateway analytics as MCP tools over stdio",
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

			deps := mcp.Deps{
				History: tr,
				Gateway: newGatewayClient(gateway, cfg),
			}
			if cfg.Budget.Enabled {
				deps.Budget = budget.New(cfg.Budget.Policies, tr)
			}
			if cfg.Audit.Enabled {
				l, cleanup, err := openAuditLogger(cfg)
				if err != nil {
					return err
				}
				defer cleanup()
				deps.Audit = l
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Debug().Str("db", cfg.DBPath).Msg("mcp server starting")
			return mcp.New(deps, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gatecache config file")
	cmd.Flags().StringVar(&gateway, "gateway", "", "gateway address (default: the config's listen address)")
	return cmd
}
