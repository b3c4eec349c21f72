// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for spand. It
// supports Docker HEALTHCHECK and Kubernetes probes with per-component
// status.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spanops/spand/internal/log"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the result of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates registered checkers.
type Manager struct {
	version  string
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health is the liveness view: the process is alive, component results are
// informational.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}

	if verbose && len(m.checkers) > 0 {
		resp.Checks = make(map[string]CheckResult)
		resp.Status = m.runChecks(ctx, resp.Checks)
	}
	return resp
}

// Ready is the readiness view: any unhealthy component makes the instance
// not ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}

	resp.Checks = make(map[string]CheckResult)
	resp.Status = m.runChecks(ctx, resp.Checks)
	if resp.Status == StatusUnhealthy {
		resp.Ready = false
	}
	return resp
}

func (m *Manager) runChecks(ctx context.Context, out map[string]CheckResult) Status {
	status := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		out[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status != StatusUnhealthy {
				status = StatusDegraded
			}
		}
	}
	return status
}

// ServeHealth handles /healthz. Always 200 for liveness.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles /readyz. 503 when not ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}
}

// Pinger is the slice of the panel client the reachability check needs.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// PanelChecker probes the panel's unauthenticated status endpoint.
type PanelChecker struct {
	pinger  Pinger
	timeout time.Duration
}

func NewPanelChecker(pinger Pinger) *PanelChecker {
	return &PanelChecker{pinger: pinger, timeout: 5 * time.Second}
}

func (c *PanelChecker) Name() string { return "panel_reachable" }

func (c *PanelChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !c.pinger.Ping(ctx) {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "panel did not answer status probe",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "panel responds"}
}

// LastPollChecker judges snapshot freshness: no poll yet is unhealthy, a
// snapshot older than staleAfter is degraded (we still serve stale data).
type LastPollChecker struct {
	getLastRun func() (time.Time, string)
	staleAfter func() time.Duration
}

func NewLastPollChecker(getLastRun func() (time.Time, string), staleAfter func() time.Duration) *LastPollChecker {
	return &LastPollChecker{getLastRun: getLastRun, staleAfter: staleAfter}
}

func (c *LastPollChecker) Name() string { return "last_poll" }

func (c *LastPollChecker) Check(_ context.Context) CheckResult {
	lastRun, lastErr := c.getLastRun()

	if lastRun.IsZero() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "no successful poll yet",
			Error:   lastErr,
		}
	}

	age := time.Since(lastRun)
	if age > c.staleAfter() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("snapshot stale (%s old)", age.Round(time.Second)),
			Error:   lastErr,
		}
	}
	if lastErr != "" {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "last poll failed, serving previous snapshot",
			Error:   lastErr,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "snapshot fresh"}
}

// TokenChecker reports degraded while the daemon runs without an access
// token (read-only endpoints fail against the panel).
type TokenChecker struct {
	hasToken func() bool
}

func NewTokenChecker(hasToken func() bool) *TokenChecker {
	return &TokenChecker{hasToken: hasToken}
}

func (c *TokenChecker) Name() string { return "access_token" }

func (c *TokenChecker) Check(_ context.Context) CheckResult {
	if !c.hasToken() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no access token configured; run the register command",
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "token configured"}
}
