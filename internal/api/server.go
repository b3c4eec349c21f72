// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP surface: snapshot reads, circuit
// control, energy history and the operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/spanops/spand/internal/cache"
	"github.com/spanops/spand/internal/health"
	"github.com/spanops/spand/internal/history"
	"github.com/spanops/spand/internal/poller"
	"github.com/spanops/spand/internal/ratelimit"
	"github.com/spanops/spand/internal/spanpanel"
)

// SnapshotSource is the poller surface the read endpoints need.
type SnapshotSource interface {
	Latest() *poller.Snapshot
	LastRun() (time.Time, string)
	ForceRefresh()
}

// PanelController issues control commands against the panel.
type PanelController interface {
	SetRelay(ctx context.Context, circuitID string, state spanpanel.RelayState) (*spanpanel.Circuit, error)
	SetPriority(ctx context.Context, circuitID string, prio spanpanel.Priority) (*spanpanel.Circuit, error)
}

// HistorySource queries recorded energy samples.
type HistorySource interface {
	Query(ctx context.Context, serial, circuitID string, since, until time.Time, limit int) ([]history.Sample, error)
}

// Options hold the static server configuration.
type Options struct {
	// APIToken guards mutating endpoints when set.
	APIToken string
	// TrustedProxies is a comma-separated list of IPs/CIDRs whose
	// forwarding headers are honoured.
	TrustedProxies string
	// PerIPPerMinute limits API requests per client IP.
	PerIPPerMinute int
	// Interval reports the current scan interval; it doubles as the cache
	// TTL and the staleness yardstick.
	Interval func() time.Duration
}

// Server wires handlers, middleware and response caching.
type Server struct {
	snapshots SnapshotSource
	control   PanelController
	histories HistorySource // nil when history is disabled
	checks    *health.Manager
	cache     cache.Cache
	commands  *ratelimit.Limiter
	proxies   *trustedProxies
	opts      Options
}

// New assembles a server. histories may be nil.
func New(
	snapshots SnapshotSource,
	control PanelController,
	histories HistorySource,
	checks *health.Manager,
	respCache cache.Cache,
	commands *ratelimit.Limiter,
	opts Options,
) *Server {
	if respCache == nil {
		respCache = cache.NewNoOpCache()
	}
	if opts.Interval == nil {
		opts.Interval = func() time.Duration { return 15 * time.Second }
	}
	return &Server{
		snapshots: snapshots,
		control:   control,
		histories: histories,
		checks:    checks,
		cache:     respCache,
		commands:  commands,
		proxies:   parseTrustedProxies(opts.TrustedProxies),
		opts:      opts,
	}
}

// InvalidateCache drops memoised responses. Called when a fresh snapshot
// arrives.
func (s *Server) InvalidateCache() { s.cache.Clear() }

// Handler builds the full HTTP handler including tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router(), "spand.api")
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.checks.ServeHealth)
	r.Get("/readyz", s.checks.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requestLogger)
		if s.opts.PerIPPerMinute > 0 {
			r.Use(s.perIPRateLimit(s.opts.PerIPPerMinute))
		}

		r.Get("/status", s.handleStatus)
		r.Get("/panel", s.handlePanel)
		r.Get("/circuits", s.handleCircuits)
		r.Get("/circuits/{circuitID}", s.handleCircuit)
		r.Get("/circuits/{circuitID}/history", s.handleHistory)
		r.Get("/storage/soe", s.handleSOE)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/circuits/{circuitID}/relay", s.handleSetRelay)
			r.Post("/circuits/{circuitID}/priority", s.handleSetPriority)
			r.Post("/refresh", s.handleRefresh)
		})
	})

	return r
}
