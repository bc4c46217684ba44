package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pario-ai/gatecache/pkg/analytics"
	"github.com/pario-ai/gatecache/pkg/audit"
	"github.com/pario-ai/gatecache/pkg/auth"
	"github.com/pario-ai/gatecache/pkg/budget"
	"github.com/pario-ai/gatecache/pkg/cache"
	"github.com/pario-ai/gatecache/pkg/cache/redis"
	"github.com/pario-ai/gatecache/pkg/cache/sqlite"
	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/pario-ai/gatecache/pkg/metrics"
	"github.com/pario-ai/gatecache/pkg/pricing"
	"github.com/pario-ai/gatecache/pkg/provider"
	"github.com/pario-ai/gatecache/pkg/proxy"
	"github.com/pario-ai/gatecache/pkg/router"
	"github.com/pario-ai/gatecache/pkg/tracker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"proxy"},
		Short:   "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, cleanup, err := buildGateway(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			srv, err := proxy.New(deps)
			if err != nil {
				return err
			}

			log.Info().
				Str("config", configPath).
				Strs("providers", deps.Providers.Names()).
				Bool("cache", deps.Store != nil).
				Msg("starting gatecache")
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gatecache.yaml", "path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

// buildGateway opens every collaborator the config asks for. cleanup
// closes them in reverse order.
func buildGateway(ctx context.Context, cfg *config.Config) (proxy.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (proxy.Deps, func(), error) {
		cleanup()
		return proxy.Deps{}, nil, err
	}

	table := pricingTable(cfg)
	rt, err := router.New(cfg, table)
	if err != nil {
		return fail(fmt.Errorf("init router: %w", err))
	}
	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		return fail(fmt.Errorf("init providers: %w", err))
	}
	resolver := auth.NewResolver(
		auth.EnvSource{},
		auth.NewCachedSource(auth.NewConfigSource(cfg.Credentials), cfg.Auth.CacheTTL),
	)

	deps := proxy.Deps{
		Config:    cfg,
		Router:    rt,
		Providers: registry,
		Resolver:  resolver,
		Analytics: analytics.New(cfg.Analytics.RecentCapacity),
	}

	if cfg.Cache.Enabled {
		tier, err := openTier(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		deps.Store = cache.New(cache.Options{
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.Cache.MaxBytes,
			TTL:        cfg.Cache.TTL,
			Tier:       tier,
		})
		closers = append(closers, func() { _ = deps.Store.Close() })
	}

	var stats metrics.StatsFunc
	if deps.Store != nil {
		stats = deps.Store.Stats
	}
	deps.Metrics = metrics.NewCollector(nil, stats)

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return fail(fmt.Errorf("init tracker: %w", err))
	}
	closers = append(closers, func() { _ = tr.Close() })
	deps.Tracker = tr

	if cfg.Budget.Enabled {
		deps.Budget = budget.New(cfg.Budget.Policies, tr)
	}

	sinks := audit.Multi{audit.NewLineSink(log.Logger)}
	if cfg.Audit.Enabled {
		logger, closeAudit, err := openAuditLogger(cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closeAudit)
		sinks = append(sinks, logger)
		deps.AuditLog = logger

		retention, err := audit.NewRetention(logger, cfg.Audit.PruneSchedule)
		if err != nil {
			return fail(err)
		}
		if err := retention.Start(ctx); err != nil {
			return fail(err)
		}
		closers = append(closers, retention.Stop)
	}
	deps.Audit = sinks

	return deps, cleanup, nil
}

func openTier(ctx context.Context, cfg *config.Config) (cache.Tier, error) {
	switch cfg.Cache.Tier.Backend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendSQLite:
		t, err := sqlite.New(tierPath(cfg))
		if err != nil {
			return nil, fmt.Errorf("init sqlite cache tier: %w", err)
		}
		return t, nil
	case config.BackendRedis:
		t, err := redis.New(ctx, cfg.Cache.Tier.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis cache tier: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown cache tier backend %q", cfg.Cache.Tier.Backend)
	}
}

func tierPath(cfg *config.Config) string {
	return firstNonEmpty(cfg.Cache.Tier.Path, cfg.DBPath)
}

// pricingTable is the built-in table with the config's overrides on top.
func pricingTable(cfg *config.Config) *pricing.Table {
	overrides := make([]pricing.Entry, 0, len(cfg.Pricing.Overrides))
	for _, o := range cfg.Pricing.Overrides {
		overrides = append(overrides, pricing.Entry{
			Model:      o.Model,
			Provider:   o.Provider,
			Input:      o.Input,
			Output:     o.Output,
			CacheWrite: o.CacheWrite,
			CacheRead:  o.CacheRead,
		})
	}
	return pricing.NewTable(overrides)
}
