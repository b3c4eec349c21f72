// SPDX-License-Identifier: MIT
package spanpanel

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStatus(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	cl, err := New(mock.URL)
	require.NoError(t, err)

	st, err := cl.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "nt-2316-c1a2b", st.System.Serial)
	assert.Equal(t, "Span", st.System.Manufacturer)
	require.NotNil(t, st.System.ProximityProven)
	assert.True(t, *st.System.ProximityProven)
}

func TestClientPanelAndCircuits(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	cl, err := New(mock.URL)
	require.NoError(t, err)

	panel, err := cl.Panel(t.Context())
	require.NoError(t, err)
	assert.Equal(t, RelayClosed, panel.MainRelayState)
	assert.InDelta(t, 2480.5, panel.InstantGridPowerW, 0.001)
	assert.Len(t, panel.Branches, 4)

	circuits, err := cl.Circuits(t.Context())
	require.NoError(t, err)
	require.Contains(t, circuits, "0aaf8c56")
	assert.Equal(t, "Kitchen Outlets", circuits["0aaf8c56"].Name)
	assert.True(t, circuits["0aaf8c56"].IsUserControllable)
}

func TestClientSetRelay(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	cl, err := New(mock.URL)
	require.NoError(t, err)

	c, err := cl.SetRelay(t.Context(), "0aaf8c56", RelayOpen)
	require.NoError(t, err)
	assert.Equal(t, RelayOpen, c.RelayState)

	// State change is visible in subsequent reads.
	circuits, err := cl.Circuits(t.Context())
	require.NoError(t, err)
	assert.Equal(t, RelayOpen, circuits["0aaf8c56"].RelayState)
}

func TestClientSetRelayRejectsInvalidState(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	cl, err := New(mock.URL)
	require.NoError(t, err)

	_, err = cl.SetRelay(t.Context(), "0aaf8c56", RelayState("HALF_OPEN"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamBadResponse)
}

func TestClientSetPriority(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	cl, err := New(mock.URL)
	require.NoError(t, err)

	c, err := cl.SetPriority(t.Context(), "0aaf8c56", PriorityNonEssential)
	require.NoError(t, err)
	assert.Equal(t, PriorityNonEssential, c.Priority)
}

func TestClientBearerToken(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.RequireToken("secret-token")

	// Without token: authenticated endpoints are rejected...
	anon, err := New(mock.URL)
	require.NoError(t, err)
	_, err = anon.Panel(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)

	// ...status stays reachable (it is unauthenticated on real panels)...
	assert.True(t, anon.Ping(t.Context()))

	// ...and the token unlocks them.
	authed, err := New(mock.URL, WithAccessToken("secret-token"))
	require.NoError(t, err)
	_, err = authed.Panel(t.Context())
	require.NoError(t, err)
}

func TestClientRegister(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.IssueToken("fresh-token")

	cl, err := New(mock.URL)
	require.NoError(t, err)

	out, err := cl.Register(t.Context(), "spand-abc123", "spand bridge")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", out.AccessToken)
}

func TestClientRegisterDeniedWithoutProximity(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	st := StatusOut{}
	st.System.Serial = "nt-2316-c1a2b"
	notProven := false
	st.System.ProximityProven = &notProven
	mock.SetStatus(st)

	cl, err := New(mock.URL)
	require.NoError(t, err)

	_, err = cl.Register(t.Context(), "spand-abc123", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{name: "not found", status: http.StatusNotFound, sentinel: ErrNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, sentinel: ErrForbidden},
		{name: "forbidden", status: http.StatusForbidden, sentinel: ErrForbidden},
		{name: "server error", status: http.StatusBadGateway, sentinel: ErrUpstreamError},
		{name: "unexpected 3xx", status: http.StatusNotModified, sentinel: ErrUpstreamBadResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"nope"}`, tt.status)
			}))
			defer srv.Close()

			cl, err := New(srv.URL)
			require.NoError(t, err)

			_, err = cl.Panel(t.Context())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var perr *PanelError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, "panel", perr.Operation)
		})
	}
}

func TestClientMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	cl, err := New(srv.URL)
	require.NoError(t, err)

	_, err = cl.Status(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamBadResponse)
}

func TestClientTransportFailure(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cl, err := New(srv.URL)
	require.NoError(t, err)

	_, err = cl.Status(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestClientTimeout(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetDelay("status", 200*time.Millisecond)

	cl, err := New(mock.URL, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, err = cl.Status(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClientBreakerIntegration(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.FailNext("status", 3)

	cb := NewCircuitBreaker(2, time.Hour)
	cl, err := New(mock.URL, WithCircuitBreaker(cb))
	require.NoError(t, err)

	_, err = cl.Status(t.Context())
	require.Error(t, err)
	_, err = cl.Status(t.Context())
	require.Error(t, err)

	// Threshold reached: fail fast without touching the network.
	_, err = cl.Status(t.Context())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())
}

func TestNewRejectsBadHost(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	_, err = New("ftp://panel")
	require.Error(t, err)
}
