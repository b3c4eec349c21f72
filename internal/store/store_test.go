// SPDX-License-Identifier: MIT
package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanops/spand/internal/poller"
	"github.com/spanops/spand/internal/spanpanel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSnapshot(serial string) *poller.Snapshot {
	return &poller.Snapshot{
		Status: spanpanel.StatusOut{
			System: spanpanel.SystemStatus{Serial: serial},
		},
		Panel: spanpanel.PanelState{
			MainRelayState:    spanpanel.RelayClosed,
			InstantGridPowerW: 987.5,
		},
		Circuits: map[string]spanpanel.Circuit{
			"c1": {ID: "c1", Name: "Kitchen", RelayState: spanpanel.RelayClosed},
		},
		UpdatedAt: time.Now().Truncate(time.Millisecond),
	}
}

func TestPutAndGetSnapshot(t *testing.T) {
	s := openTestStore(t)
	snap := testSnapshot("nt-2316-a")

	require.NoError(t, s.PutSnapshot(t.Context(), snap))

	got, err := s.GetSnapshot(t.Context(), "nt-2316-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nt-2316-a", got.Serial())
	assert.InDelta(t, 987.5, got.Panel.InstantGridPowerW, 0.001)
	if diff := cmp.Diff(snap.Circuits, got.Circuits); diff != "" {
		t.Errorf("circuits changed through the store (-want +got):\n%s", diff)
	}
	assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))
}

func TestGetSnapshotMissing(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetSnapshot(t.Context(), "no-such-panel")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetCurrentFollowsBootPointer(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetCurrent(t.Context())
	require.NoError(t, err)
	assert.Nil(t, got, "empty store has no current snapshot")

	require.NoError(t, s.PutSnapshot(t.Context(), testSnapshot("nt-2316-a")))
	require.NoError(t, s.PutSnapshot(t.Context(), testSnapshot("nt-2316-b")))

	got, err = s.GetCurrent(t.Context())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nt-2316-b", got.Serial())
}

func TestPutSnapshotRejectsMissingSerial(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.PutSnapshot(t.Context(), &poller.Snapshot{}))
}
