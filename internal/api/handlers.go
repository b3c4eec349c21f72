// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spanops/spand/internal/history"
	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/metrics"
	"github.com/spanops/spand/internal/poller"
)

// staleFactor: a snapshot older than staleFactor poll intervals is flagged
// via the X-Spand-Stale header but still served.
const staleFactor = 3

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 5000
)

// currentSnapshot fetches the latest snapshot or answers 503 when none
// exists yet.
func (s *Server) currentSnapshot(w http.ResponseWriter) *poller.Snapshot {
	snap := s.snapshots.Latest()
	if snap == nil {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.Interval().Seconds())))
		writeError(w, http.StatusServiceUnavailable, "no_snapshot", "no panel data collected yet")
		return nil
	}

	age := time.Since(snap.UpdatedAt)
	metrics.RecordSnapshotAge(age.Seconds())
	if age > staleFactor*s.opts.Interval() {
		w.Header().Set("X-Spand-Stale", "true")
	}
	return snap
}

// serveSnapshotView renders one view of the snapshot, memoised until the
// next poll.
func (s *Server) serveSnapshotView(w http.ResponseWriter, r *http.Request, key string, view func(*poller.Snapshot) any) {
	snap := s.currentSnapshot(w)
	if snap == nil {
		return
	}

	if body, ok := s.cache.Get(key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	body, err := json.Marshal(view(snap))
	if err != nil {
		alog := xlog.WithComponentFromContext(r.Context(), "api")
		alog.Error().
			Err(err).Str("event", "api.encode_error").Msg("failed to encode snapshot view")
		writeError(w, http.StatusInternalServerError, "internal", "failed to encode response")
		return
	}
	s.cache.Set(key, body, s.opts.Interval())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.serveSnapshotView(w, r, "status", func(snap *poller.Snapshot) any {
		return snap.Status
	})
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	s.serveSnapshotView(w, r, "panel", func(snap *poller.Snapshot) any {
		return snap.Panel
	})
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	s.serveSnapshotView(w, r, "circuits", func(snap *poller.Snapshot) any {
		return map[string]any{"circuits": snap.Circuits}
	})
}

func (s *Server) handleCircuit(w http.ResponseWriter, r *http.Request) {
	circuitID := chi.URLParam(r, "circuitID")

	snap := s.currentSnapshot(w)
	if snap == nil {
		return
	}
	circuit, ok := snap.Circuits[circuitID]
	if !ok {
		writeError(w, http.StatusNotFound, "circuit_not_found", fmt.Sprintf("unknown circuit %q", circuitID))
		return
	}
	writeJSON(w, http.StatusOK, circuit)
}

func (s *Server) handleSOE(w http.ResponseWriter, r *http.Request) {
	snap := s.currentSnapshot(w)
	if snap == nil {
		return
	}
	if snap.SOE == nil {
		writeError(w, http.StatusNotFound, "battery_disabled", "battery storage polling is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"soe": map[string]any{"percentage": *snap.SOE},
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.histories == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "energy history is not enabled")
		return
	}

	circuitID := chi.URLParam(r, "circuitID")
	snap := s.currentSnapshot(w)
	if snap == nil {
		return
	}
	if _, ok := snap.Circuits[circuitID]; !ok {
		writeError(w, http.StatusNotFound, "circuit_not_found", fmt.Sprintf("unknown circuit %q", circuitID))
		return
	}

	until := time.Now()
	since := until.Add(-24 * time.Hour)
	limit := defaultHistoryLimit

	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_since", "since must be RFC3339")
			return
		}
		since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_until", "until must be RFC3339")
			return
		}
		until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	samples, err := s.histories.Query(r.Context(), snap.Serial(), circuitID, since, until, limit)
	if err != nil {
		alog := xlog.WithComponentFromContext(r.Context(), "api")
		alog.Error().
			Err(err).Str("event", "api.history_error").Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history_error", "failed to query energy history")
		return
	}
	if samples == nil {
		samples = []history.Sample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"circuitId": circuitID,
		"samples":   samples,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.snapshots.ForceRefresh()
	w.WriteHeader(http.StatusNoContent)
}
