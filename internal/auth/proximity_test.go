// SPDX-License-Identifier: MIT
package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spanops/spand/internal/spanpanel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePanel scripts the status sequence the flow observes; fakeClient binds
// it to one bearer token, like a real client instance would.
type fakePanel struct {
	statuses  []spanpanel.StatusOut
	calls     atomic.Int32
	wantToken string
}

type fakeClient struct {
	panel *fakePanel
	token string
}

func (c *fakeClient) Status(ctx context.Context) (*spanpanel.StatusOut, error) {
	n := int(c.panel.calls.Add(1)) - 1
	if n >= len(c.panel.statuses) {
		n = len(c.panel.statuses) - 1
	}
	st := c.panel.statuses[n]
	return &st, nil
}

func (c *fakeClient) Panel(ctx context.Context) (*spanpanel.PanelState, error) {
	if c.panel.wantToken != "" && c.token != c.panel.wantToken {
		return nil, &spanpanel.PanelError{Sentinel: spanpanel.ErrForbidden, Operation: "panel", Status: 401}
	}
	return &spanpanel.PanelState{MainRelayState: spanpanel.RelayClosed}, nil
}

func (c *fakeClient) Register(ctx context.Context, name, description string) (*spanpanel.RegisterOut, error) {
	return &spanpanel.RegisterOut{AccessToken: "issued-token", TokenType: "bearer"}, nil
}

func statusWithProximity(proven *bool, remaining int) spanpanel.StatusOut {
	var st spanpanel.StatusOut
	st.System.Serial = "nt-2316-c1a2b"
	st.System.ProximityProven = proven
	st.System.RemainingAuthUnlockButtonPresses = remaining
	return st
}

func newTestFlow(panel *fakePanel) *Flow {
	f := NewFlow("192.0.2.10")
	f.pollInterval = time.Millisecond
	f.newClient = func(host, token string) (PanelAPI, error) {
		return &fakeClient{panel: panel, token: token}, nil
	}
	return f
}

func TestWaitAndRegisterNewFirmware(t *testing.T) {
	proven, notProven := true, false
	panel := &fakePanel{
		statuses: []spanpanel.StatusOut{
			statusWithProximity(&notProven, 0),
			statusWithProximity(&notProven, 0),
			statusWithProximity(&proven, 0),
		},
		wantToken: "issued-token",
	}

	token, err := newTestFlow(panel).WaitAndRegister(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "issued-token", token)
	assert.GreaterOrEqual(t, panel.calls.Load(), int32(3))
}

func TestWaitAndRegisterOldFirmwareCountdown(t *testing.T) {
	panel := &fakePanel{
		statuses: []spanpanel.StatusOut{
			statusWithProximity(nil, 3),
			statusWithProximity(nil, 1),
			statusWithProximity(nil, 0),
		},
		wantToken: "issued-token",
	}

	token, err := newTestFlow(panel).WaitAndRegister(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "issued-token", token)
}

func TestWaitAndRegisterHonoursCancellation(t *testing.T) {
	notProven := false
	panel := &fakePanel{statuses: []spanpanel.StatusOut{statusWithProximity(&notProven, 0)}}

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestFlow(panel).WaitAndRegister(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitAndRegisterRejectsBadIssuedToken(t *testing.T) {
	proven := true
	panel := &fakePanel{
		statuses:  []spanpanel.StatusOut{statusWithProximity(&proven, 0)},
		wantToken: "some-other-token",
	}

	_, err := newTestFlow(panel).WaitAndRegister(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, spanpanel.ErrForbidden)
}

func TestValidateToken(t *testing.T) {
	panel := &fakePanel{wantToken: "good"}
	flow := newTestFlow(panel)

	require.NoError(t, flow.ValidateToken(t.Context(), "good"))
	require.Error(t, flow.ValidateToken(t.Context(), "bad"))
	require.Error(t, flow.ValidateToken(t.Context(), ""))
}
