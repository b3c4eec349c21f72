// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spanops/spand/internal/spanpanel"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writePanelError maps client sentinels onto gateway status codes.
func writePanelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, spanpanel.ErrNotFound):
		writeError(w, http.StatusNotFound, "circuit_not_found", "panel does not know this circuit")
	case errors.Is(err, spanpanel.ErrForbidden):
		writeError(w, http.StatusBadGateway, "panel_forbidden", "panel rejected the access token")
	case errors.Is(err, spanpanel.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "panel_timeout", "panel did not answer in time")
	case errors.Is(err, spanpanel.ErrCircuitOpen), errors.Is(err, spanpanel.ErrUpstreamUnavailable):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "panel_unreachable", "panel is currently unreachable")
	default:
		writeError(w, http.StatusBadGateway, "panel_error", "panel returned an unexpected response")
	}
}
