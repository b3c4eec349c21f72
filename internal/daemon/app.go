// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spanops/spand/internal/api"
	"github.com/spanops/spand/internal/config"
	"github.com/spanops/spand/internal/history"
	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/poller"
)

// prunePeriod is how often old history samples are removed.
const prunePeriod = 24 * time.Hour

// App owns the background subsystems and delegates server management to
// Manager.
type App struct {
	manager   *Manager
	cfgHolder *config.Holder
	poller    *poller.Poller
	apiServer *api.Server
	histories *history.DB // nil when history is disabled

	reloadSignal os.Signal
}

// NewApp creates the runtime orchestrator. histories may be nil.
func NewApp(manager *Manager, cfgHolder *config.Holder, pol *poller.Poller, apiServer *api.Server, histories *history.DB) *App {
	return &App{
		manager:      manager,
		cfgHolder:    cfgHolder,
		poller:       pol,
		apiServer:    apiServer,
		histories:    histories,
		reloadSignal: syscall.SIGHUP,
	}
}

// PollerOptions derives the poller's view of the configuration.
func PollerOptions(cfg config.AppConfig) poller.Options {
	return poller.Options{
		Interval:      cfg.ScanInterval,
		EnableBattery: cfg.EnableBattery,
		EnableSolar:   cfg.EnableSolar,
		InverterLeg1:  cfg.InverterLeg1,
		InverterLeg2:  cfg.InverterLeg2,
	}
}

// Run starts all subsystems and blocks until ctx is cancelled or a fatal
// error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.poller == nil {
		return ErrMissingPoller
	}
	logger := xlog.WithComponent("daemon")

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup must not fail on a watch error.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		// Apply reloaded config to the poller on every successful swap.
		reloadCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(reloadCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-reloadCh:
					a.poller.SetOptions(PollerOptions(cfg))
					if a.apiServer != nil {
						a.apiServer.InvalidateCache()
					}
					a.poller.ForceRefresh()
				}
			}
		})

		// SIGHUP triggers a manual reload.
		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						logger.Info().
							Str("event", "config.reload_signal").
							Msg("received reload signal, reloading config")
						if err := a.cfgHolder.Reload(ctx); err != nil {
							logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	// New snapshots invalidate memoised API responses.
	if a.apiServer != nil {
		snapCh := make(chan *poller.Snapshot, 1)
		a.poller.RegisterListener(snapCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-snapCh:
					a.apiServer.InvalidateCache()
				}
			}
		})
	}

	// Poll loop.
	g.Go(func() error {
		return a.poller.Run(ctx)
	})

	// Daily history retention.
	if a.histories != nil && a.cfgHolder != nil {
		g.Go(func() error {
			ticker := time.NewTicker(prunePeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					retention := a.cfgHolder.Get().History.Retention
					if retention <= 0 {
						continue
					}
					if _, err := a.histories.Prune(ctx, time.Now().Add(-retention)); err != nil {
						logger.Warn().Err(err).Str("event", "history.prune_failed").Msg("history prune failed")
					}
				}
			}
		})
	}

	// Server lifecycle.
	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}
