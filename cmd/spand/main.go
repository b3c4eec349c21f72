// SPDX-License-Identifier: MIT

// Command spand bridges a SPAN smart electrical panel onto the local
// network: it polls the panel, persists energy history and exposes a
// stable HTTP API with relay and priority control.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spanops/spand/internal/api"
	"github.com/spanops/spand/internal/auth"
	"github.com/spanops/spand/internal/cache"
	"github.com/spanops/spand/internal/config"
	"github.com/spanops/spand/internal/daemon"
	"github.com/spanops/spand/internal/health"
	"github.com/spanops/spand/internal/history"
	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/poller"
	"github.com/spanops/spand/internal/ratelimit"
	"github.com/spanops/spand/internal/spanpanel"
	"github.com/spanops/spand/internal/store"
	"github.com/spanops/spand/internal/telemetry"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "discover":
			os.Exit(runDiscover(os.Args[2:]))
		case "register":
			os.Exit(runRegister(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xlog.Configure(xlog.Config{
		Level:   "info",
		Service: "spand",
		Version: version,
	})
	logger := xlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectiveConfigPath := resolveConfigPath(*configPath)
	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "spand",
		Version: version,
	})
	logger.Info().
		Str("event", "config.loaded").
		Str("panel_host", cfg.PanelHost).
		Dur("scan_interval", cfg.ScanInterval).
		Str("listen", cfg.ListenAddr).
		Msg("configuration loaded")

	if err := run(ctx, cfg, loader, effectiveConfigPath); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
}

// resolveConfigPath prefers the explicit flag, then an existing
// ${SPAND_DATA}/config.yaml.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString("SPAND_DATA", "/var/lib/spand"))
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

// loadAccessToken resolves the panel token: explicit config first, then the
// token file written by the register command.
func loadAccessToken(cfg config.AppConfig) (string, error) {
	if cfg.AccessToken != "" {
		return cfg.AccessToken, nil
	}
	token, ok, err := auth.NewTokenStore(cfg.ResolveTokenFile()).Load()
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func run(ctx context.Context, cfg config.AppConfig, loader *config.Loader, configPath string) error {
	logger := xlog.WithComponent("main")

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "spand",
		ServiceVersion: version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	token, err := loadAccessToken(cfg)
	if err != nil {
		return err
	}
	if token == "" {
		logger.Warn().
			Str("event", "auth.no_token").
			Msg("no access token configured; authenticated endpoints will fail until registered")
	}

	client, err := spanpanel.New(cfg.PanelHost,
		spanpanel.WithAccessToken(token),
		spanpanel.WithCircuitBreaker(spanpanel.NewCircuitBreaker(5, 30*time.Second)),
	)
	if err != nil {
		return fmt.Errorf("create panel client: %w", err)
	}

	snapStore, err := store.Open(filepath.Join(cfg.DataDir, "snapshots"))
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}

	var (
		histDB   *history.DB
		recorder poller.Recorder
	)
	if cfg.History.Enabled {
		histDB, err = history.Open(filepath.Join(cfg.DataDir, "history.sqlite"))
		if err != nil {
			_ = snapStore.Close()
			return fmt.Errorf("open energy history: %w", err)
		}
		recorder = histDB
	}

	pol := poller.New(client, snapStore, recorder, daemon.PollerOptions(cfg))
	if seed, err := snapStore.GetCurrent(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "store.seed_failed").Msg("could not load warm snapshot")
	} else if seed != nil {
		pol.Seed(seed)
		logger.Info().
			Str("event", "store.seeded").
			Str("serial", seed.Serial()).
			Time("updated_at", seed.UpdatedAt).
			Msg("serving warm snapshot until first poll")
	}

	respCache := buildCache(cfg)

	commands := ratelimit.New(ratelimit.Config{
		GlobalPerMinute:     cfg.RateLimit.RelayGlobalPerMin,
		PerCircuitPerMinute: cfg.RateLimit.RelayPerCircuitPerMin,
		CleanupInterval:     10 * time.Minute,
	})

	holder := config.NewHolder(cfg, loader, configPath)

	checks := health.NewManager(version)
	checks.RegisterChecker(health.NewPanelChecker(client))
	checks.RegisterChecker(health.NewLastPollChecker(pol.LastRun, func() time.Duration {
		return 3 * holder.Get().ScanInterval
	}))
	checks.RegisterChecker(health.NewTokenChecker(func() bool {
		return token != ""
	}))

	var histSource api.HistorySource
	if histDB != nil {
		histSource = histDB
	}
	srv := api.New(pol, client, histSource, checks, respCache, commands, api.Options{
		APIToken:       cfg.APIToken,
		TrustedProxies: cfg.TrustedProxies,
		PerIPPerMinute: cfg.RateLimit.APIPerIPPerMinute,
		Interval: func() time.Duration {
			return holder.Get().ScanInterval
		},
	})

	manager, err := daemon.NewManager(daemon.DefaultServerConfig(cfg.ListenAddr), srv.Handler())
	if err != nil {
		_ = snapStore.Close()
		if histDB != nil {
			_ = histDB.Close()
		}
		return err
	}
	manager.RegisterShutdownHook("telemetry", tracing.Shutdown)
	manager.RegisterShutdownHook("snapshot-store", func(context.Context) error {
		return snapStore.Close()
	})
	if histDB != nil {
		manager.RegisterShutdownHook("energy-history", func(context.Context) error {
			return histDB.Close()
		})
	}
	if closer, ok := respCache.(interface{ Close() error }); ok {
		manager.RegisterShutdownHook("response-cache", func(context.Context) error {
			return closer.Close()
		})
	}
	manager.RegisterShutdownHook("config-watcher", func(context.Context) error {
		holder.Stop()
		return nil
	})

	app := daemon.NewApp(manager, holder, pol, srv, histDB)
	return app.Run(ctx)
}

// buildCache prefers Redis when configured, with in-memory fallback.
func buildCache(cfg config.AppConfig) cache.Cache {
	logger := xlog.WithComponent("main")
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err == nil {
			return rc
		}
		logger.Warn().
			Err(err).
			Str("event", "cache.redis_unavailable").
			Msg("redis unavailable, falling back to in-memory cache")
	}
	return cache.NewMemoryCache(time.Minute)
}
