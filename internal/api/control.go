// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/metrics"
	"github.com/spanops/spand/internal/spanpanel"
)

type relayRequest struct {
	RelayState spanpanel.RelayState `json:"relayState"`
}

type priorityRequest struct {
	Priority spanpanel.Priority `json:"priority"`
}

// guardCommand runs the shared pre-flight of both control endpoints:
// snapshot present, circuit known, circuit controllable, command budget
// available.
func (s *Server) guardCommand(w http.ResponseWriter, circuitID string) bool {
	snap := s.currentSnapshot(w)
	if snap == nil {
		return false
	}
	circuit, ok := snap.Circuits[circuitID]
	if !ok {
		writeError(w, http.StatusNotFound, "circuit_not_found", fmt.Sprintf("unknown circuit %q", circuitID))
		return false
	}
	if !circuit.IsUserControllable {
		writeError(w, http.StatusConflict, "not_controllable", "circuit is not user controllable")
		return false
	}
	if s.commands != nil && !s.commands.Allow(circuitID) {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusTooManyRequests, "command_rate_limited", "too many commands for this circuit")
		return false
	}
	return true
}

func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	circuitID := chi.URLParam(r, "circuitID")
	logger := xlog.WithComponentFromContext(r.Context(), "api")

	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "body must be JSON with a relayState field")
		return
	}
	state := req.RelayState
	if !state.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "invalid_relay_state",
			fmt.Sprintf("relayState must be %s or %s", spanpanel.RelayOpen, spanpanel.RelayClosed))
		return
	}

	if !s.guardCommand(w, circuitID) {
		metrics.IncRelayCommand(string(state), "rejected")
		return
	}

	circuit, err := s.control.SetRelay(r.Context(), circuitID, state)
	if err != nil {
		metrics.IncRelayCommand(string(state), "failure")
		logger.Error().
			Err(err).
			Str("event", "api.relay_failed").
			Str("circuit_id", circuitID).
			Str("state", string(state)).
			Msg("relay command failed")
		writePanelError(w, err)
		return
	}

	metrics.IncRelayCommand(string(state), "success")
	logger.Info().
		Str("event", "api.relay_set").
		Str("circuit_id", circuitID).
		Str("state", string(state)).
		Msg("relay command applied")

	// The panel applied the change; refresh so reads converge quickly.
	s.cache.Clear()
	s.snapshots.ForceRefresh()
	writeJSON(w, http.StatusOK, circuit)
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	circuitID := chi.URLParam(r, "circuitID")
	logger := xlog.WithComponentFromContext(r.Context(), "api")

	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "body must be JSON with a priority field")
		return
	}
	if !req.Priority.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "invalid_priority",
			"priority must be MUST_HAVE, NICE_TO_HAVE or NON_ESSENTIAL")
		return
	}

	if !s.guardCommand(w, circuitID) {
		metrics.IncPriorityCommand("rejected")
		return
	}

	circuit, err := s.control.SetPriority(r.Context(), circuitID, req.Priority)
	if err != nil {
		metrics.IncPriorityCommand("failure")
		logger.Error().
			Err(err).
			Str("event", "api.priority_failed").
			Str("circuit_id", circuitID).
			Str("priority", string(req.Priority)).
			Msg("priority command failed")
		writePanelError(w, err)
		return
	}

	metrics.IncPriorityCommand("success")
	logger.Info().
		Str("event", "api.priority_set").
		Str("circuit_id", circuitID).
		Str("priority", string(req.Priority)).
		Msg("priority command applied")

	s.cache.Clear()
	s.snapshots.ForceRefresh()
	writeJSON(w, http.StatusOK, circuit)
}
