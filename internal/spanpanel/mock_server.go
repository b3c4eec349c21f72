// SPDX-License-Identifier: MIT
package spanpanel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockServer provides a configurable SPAN panel mock for testing.
type MockServer struct {
	*httptest.Server
	mu       sync.RWMutex
	status   StatusOut
	panel    PanelState
	circuits map[string]Circuit
	soe      BatteryStorage
	token    string // expected bearer token; empty disables auth checks
	issued   string // token handed out by /auth/register
	delay    map[string]time.Duration
	failures map[string]int // remaining failures before success per endpoint
}

// NewMockServer creates a mock panel with realistic default data.
func NewMockServer() *MockServer {
	mock := &MockServer{
		circuits: make(map[string]Circuit),
		delay:    make(map[string]time.Duration),
		failures: make(map[string]int),
		issued:   "mock-access-token",
	}
	mock.SetDefaultData()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", mock.handleStatus)
	mux.HandleFunc("/api/v1/panel", mock.handlePanel)
	mux.HandleFunc("/api/v1/circuits", mock.handleCircuits)
	mux.HandleFunc("/api/v1/circuits/", mock.handleCircuit)
	mux.HandleFunc("/api/v1/storage/soe", mock.handleSOE)
	mux.HandleFunc("/api/v1/auth/register", mock.handleRegister)

	mock.Server = httptest.NewServer(mux)
	return mock
}

// SetDefaultData sets up realistic test data.
func (m *MockServer) SetDefaultData() {
	m.mu.Lock()
	defer m.mu.Unlock()

	proven := true
	m.status = StatusOut{
		Software: SoftwareStatus{FirmwareVersion: "spandoorstep-r202349", UpdateStatus: "IDLE", Env: "prod"},
		System: SystemStatus{
			Manufacturer:    "Span",
			Serial:          "nt-2316-c1a2b",
			Model:           "00200",
			DoorState:       "CLOSED",
			UptimeMs:        86_400_000,
			ProximityProven: &proven,
		},
		Network: NetworkStatus{Eth0Link: true},
	}
	m.panel = PanelState{
		MainRelayState:    RelayClosed,
		InstantGridPowerW: 2480.5,
		FeedthroughPowerW: -120.0,
		DsmGridState:      "DSM_GRID_UP",
		DsmState:          "DSM_ON_GRID",
		CurrentRunConfig:  "PANEL_ON_GRID",
		MainMeterEnergy:   EnergyAccum{ProducedEnergyWh: 180_000, ConsumedEnergyWh: 920_000},
		FeedthroughEnergy: EnergyAccum{ProducedEnergyWh: 12_000, ConsumedEnergyWh: 54_000},
		Branches: []Branch{
			{ID: 1, RelayState: RelayClosed, InstantPowerW: 150.2, IsMeasureValid: true},
			{ID: 2, RelayState: RelayClosed, InstantPowerW: 89.9, IsMeasureValid: true},
			{ID: 30, RelayState: RelayClosed, InstantPowerW: -1800.0, IsMeasureValid: true},
			{ID: 32, RelayState: RelayClosed, InstantPowerW: -1750.0, IsMeasureValid: true},
		},
	}
	m.circuits = map[string]Circuit{
		"0aaf8c56": {
			ID: "0aaf8c56", Name: "Kitchen Outlets", RelayState: RelayClosed,
			InstantPowerW: 150.2, ProducedEnergyWh: 0, ConsumedEnergyWh: 41_000,
			Tabs: []int{1}, Priority: PriorityNiceToHave,
			IsUserControllable: true, IsSheddable: true,
		},
		"77bee1cd": {
			ID: "77bee1cd", Name: "Heat Pump", RelayState: RelayClosed,
			InstantPowerW: 2100.0, ConsumedEnergyWh: 480_000,
			Tabs: []int{3, 5}, Priority: PriorityMustHave,
			IsUserControllable: true,
		},
		"f00dcafe": {
			ID: "f00dcafe", Name: "Main Feed", RelayState: RelayClosed,
			InstantPowerW: 0, Tabs: []int{7}, Priority: PriorityMustHave,
			IsUserControllable: false, IsNeverBackup: true,
		},
	}
	m.soe = BatteryStorage{SOE: StateOfEnergy{Percentage: 87.5}}
}

// SetStatus replaces the status document.
func (m *MockServer) SetStatus(s StatusOut) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

// SetCircuit adds or replaces a circuit.
func (m *MockServer) SetCircuit(c Circuit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuits[c.ID] = c
}

// RequireToken makes authenticated endpoints demand the given bearer token.
func (m *MockServer) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// IssueToken sets the token handed out by the register endpoint.
func (m *MockServer) IssueToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = token
}

// SetDelay injects an artificial delay for an endpoint key ("status", "panel", ...).
func (m *MockServer) SetDelay(endpoint string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[endpoint] = d
}

// FailNext makes the next n requests to an endpoint return HTTP 500.
func (m *MockServer) FailNext(endpoint string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[endpoint] = n
}

// gate applies injected delay/failures and returns false if the request was
// already answered with an error.
func (m *MockServer) gate(w http.ResponseWriter, endpoint string) bool {
	m.mu.Lock()
	d := m.delay[endpoint]
	fail := false
	if m.failures[endpoint] > 0 {
		m.failures[endpoint]--
		fail = true
	}
	m.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	if fail {
		http.Error(w, `{"detail":"injected failure"}`, http.StatusInternalServerError)
		return false
	}
	return true
}

// authorized checks the bearer token on authenticated endpoints.
func (m *MockServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	m.mu.RLock()
	want := m.token
	m.mu.RUnlock()
	if want == "" {
		return true
	}
	if r.Header.Get("Authorization") != "Bearer "+want {
		http.Error(w, `{"detail":"Not authenticated"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func (m *MockServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "status") {
		return
	}
	// Status is unauthenticated on real panels.
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, m.status)
}

func (m *MockServer) handlePanel(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "panel") || !m.authorized(w, r) {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, m.panel)
}

func (m *MockServer) handleCircuits(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "circuits") || !m.authorized(w, r) {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, CircuitsOut{Circuits: m.circuits})
}

func (m *MockServer) handleCircuit(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "circuit") || !m.authorized(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/circuits/")

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.circuits[id]
	if !ok {
		http.Error(w, `{"detail":"circuit not found"}`, http.StatusNotFound)
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			RelayStateIn *struct {
				RelayState RelayState `json:"relayState"`
			} `json:"relayStateIn"`
			PriorityIn *struct {
				Priority Priority `json:"priority"`
			} `json:"priorityIn"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"detail":"invalid body"}`, http.StatusUnprocessableEntity)
			return
		}
		if body.RelayStateIn != nil {
			c.RelayState = body.RelayStateIn.RelayState
		}
		if body.PriorityIn != nil {
			c.Priority = body.PriorityIn.Priority
		}
		m.circuits[id] = c
	}
	writeJSON(w, c)
}

func (m *MockServer) handleSOE(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "soe") || !m.authorized(w, r) {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, m.soe)
}

func (m *MockServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !m.gate(w, "register") {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, `{"detail":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	m.mu.RLock()
	st := m.status
	issued := m.issued
	m.mu.RUnlock()

	// The real panel rejects registration until proximity is proven.
	proven := st.System.ProximityProven != nil && *st.System.ProximityProven
	legacyUnlocked := st.System.ProximityProven == nil && st.System.RemainingAuthUnlockButtonPresses == 0
	if !proven && !legacyUnlocked {
		http.Error(w, `{"detail":"door not unlocked"}`, http.StatusForbidden)
		return
	}

	var in registerIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		http.Error(w, `{"detail":"name required"}`, http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, RegisterOut{AccessToken: issued, TokenType: "bearer", IATMs: time.Now().UnixMilli()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
