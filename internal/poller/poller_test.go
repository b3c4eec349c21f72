// SPDX-License-Identifier: MIT
package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spanops/spand/internal/spanpanel"
)

type fakeSource struct {
	mu       sync.Mutex
	status   spanpanel.StatusOut
	panel    spanpanel.PanelState
	circuits map[string]spanpanel.Circuit
	soe      float64

	failStage string
	calls     int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		status: spanpanel.StatusOut{
			System: spanpanel.SystemStatus{Serial: "nt-2316-test"},
		},
		panel: spanpanel.PanelState{
			MainRelayState:    spanpanel.RelayClosed,
			InstantGridPowerW: 1200,
			Branches: []spanpanel.Branch{
				{ID: 30, InstantPowerW: -800, ExportedActiveEnergyWh: 5000, ImportedActiveEnergyWh: 10},
				{ID: 32, InstantPowerW: -750, ExportedActiveEnergyWh: 4800, ImportedActiveEnergyWh: 12},
				{ID: 2, InstantPowerW: 150},
			},
		},
		circuits: map[string]spanpanel.Circuit{
			"c1": {ID: "c1", Name: "Kitchen", RelayState: spanpanel.RelayClosed},
			"c2": {ID: "c2", Name: "Garage", RelayState: spanpanel.RelayOpen},
		},
		soe: 71.5,
	}
}

func (f *fakeSource) fail(stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failStage == stage {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeSource) Status(context.Context) (*spanpanel.StatusOut, error) {
	if err := f.fail("status"); err != nil {
		return nil, err
	}
	st := f.status
	return &st, nil
}

func (f *fakeSource) Panel(context.Context) (*spanpanel.PanelState, error) {
	if err := f.fail("panel"); err != nil {
		return nil, err
	}
	p := f.panel
	return &p, nil
}

func (f *fakeSource) Circuits(context.Context) (map[string]spanpanel.Circuit, error) {
	if err := f.fail("circuits"); err != nil {
		return nil, err
	}
	out := make(map[string]spanpanel.Circuit, len(f.circuits))
	for k, v := range f.circuits {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) BatterySOE(context.Context) (*spanpanel.BatteryStorage, error) {
	if err := f.fail("soe"); err != nil {
		return nil, err
	}
	return &spanpanel.BatteryStorage{SOE: spanpanel.StateOfEnergy{Percentage: f.soe}}, nil
}

type fakeSink struct {
	mu    sync.Mutex
	snaps []*Snapshot
	err   error
}

func (s *fakeSink) record(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *fakeSink) PutSnapshot(_ context.Context, snap *Snapshot) error { return s.record(snap) }
func (s *fakeSink) Append(_ context.Context, snap *Snapshot) error     { return s.record(snap) }

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func TestRefreshOncePublishesSnapshot(t *testing.T) {
	src := newFakeSource()
	store := &fakeSink{}
	hist := &fakeSink{}
	p := New(src, store, hist, Options{Interval: time.Second})

	require.NoError(t, p.RefreshOnce(t.Context()))

	snap := p.Latest()
	require.NotNil(t, snap)
	assert.Equal(t, "nt-2316-test", snap.Serial())
	assert.Len(t, snap.Circuits, 2)
	assert.Nil(t, snap.SOE)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, hist.count())

	last, lastErr := p.LastRun()
	assert.False(t, last.IsZero())
	assert.Empty(t, lastErr)
}

func TestRefreshOnceBattery(t *testing.T) {
	src := newFakeSource()
	p := New(src, nil, nil, Options{Interval: time.Second, EnableBattery: true})

	require.NoError(t, p.RefreshOnce(t.Context()))

	snap := p.Latest()
	require.NotNil(t, snap.SOE)
	assert.InDelta(t, 71.5, *snap.SOE, 0.001)
}

func TestRefreshOnceSynthesizesSolar(t *testing.T) {
	src := newFakeSource()
	p := New(src, nil, nil, Options{
		Interval:     time.Second,
		EnableSolar:  true,
		InverterLeg1: 30,
		InverterLeg2: 32,
	})

	require.NoError(t, p.RefreshOnce(t.Context()))

	snap := p.Latest()
	solar, ok := snap.Circuits[SolarCircuitID]
	require.True(t, ok, "solar circuit should be synthesized")
	assert.InDelta(t, -1550, solar.InstantPowerW, 0.001)
	assert.InDelta(t, 9800, solar.ProducedEnergyWh, 0.001)
	assert.InDelta(t, 22, solar.ConsumedEnergyWh, 0.001)
	assert.ElementsMatch(t, []int{30, 32}, solar.Tabs)
	assert.False(t, solar.IsUserControllable)
	assert.Equal(t, spanpanel.RelayUnknown, solar.RelayState)
}

func TestRefreshOnceSolarLegsAbsent(t *testing.T) {
	src := newFakeSource()
	p := New(src, nil, nil, Options{
		Interval:     time.Second,
		EnableSolar:  true,
		InverterLeg1: 7,
		InverterLeg2: 9,
	})

	require.NoError(t, p.RefreshOnce(t.Context()))
	_, ok := p.Latest().Circuits[SolarCircuitID]
	assert.False(t, ok)
}

func TestRefreshOnceFailureKeepsPreviousSnapshot(t *testing.T) {
	src := newFakeSource()
	p := New(src, nil, nil, Options{Interval: time.Second})

	require.NoError(t, p.RefreshOnce(t.Context()))
	before := p.Latest()

	src.mu.Lock()
	src.failStage = "circuits"
	src.mu.Unlock()

	err := p.RefreshOnce(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuits")
	assert.Same(t, before, p.Latest(), "stale snapshot must survive a failed poll")

	_, lastErr := p.LastRun()
	assert.NotEmpty(t, lastErr)
}

func TestRefreshOnceSinkFailureIsNotFatal(t *testing.T) {
	src := newFakeSource()
	store := &fakeSink{err: errors.New("disk full")}
	p := New(src, store, nil, Options{Interval: time.Second})

	require.NoError(t, p.RefreshOnce(t.Context()))
	require.NotNil(t, p.Latest())
}

func TestSeedDoesNotOverrideFresher(t *testing.T) {
	p := New(newFakeSource(), nil, nil, Options{Interval: time.Second})

	fresh := &Snapshot{UpdatedAt: time.Now()}
	stale := &Snapshot{UpdatedAt: time.Now().Add(-time.Hour)}

	p.Seed(stale)
	assert.Same(t, stale, p.Latest())

	p.Seed(fresh)
	assert.Same(t, fresh, p.Latest())

	p.Seed(stale)
	assert.Same(t, fresh, p.Latest(), "older seed must not replace fresher data")

	p.Seed(nil)
	assert.Same(t, fresh, p.Latest())
}

func TestListenerReceivesSnapshots(t *testing.T) {
	src := newFakeSource()
	p := New(src, nil, nil, Options{Interval: time.Second})

	ch := make(chan *Snapshot, 1)
	p.RegisterListener(ch)

	require.NoError(t, p.RefreshOnce(t.Context()))

	select {
	case snap := <-ch:
		assert.Equal(t, "nt-2316-test", snap.Serial())
	case <-time.After(time.Second):
		t.Fatal("listener did not receive snapshot")
	}
}

func TestNextWaitBacksOff(t *testing.T) {
	p := New(newFakeSource(), nil, nil, Options{Interval: 10 * time.Second})

	// No failures: within the ±20% jitter band of the base interval.
	w := p.nextWait()
	assert.GreaterOrEqual(t, w, 8*time.Second)
	assert.LessOrEqual(t, w, 12*time.Second)

	p.recordFailure(errors.New("x"))
	p.recordFailure(errors.New("x"))
	w = p.nextWait()
	assert.GreaterOrEqual(t, w, 32*time.Second) // 10s * 2^2 * 0.8

	// Backoff is capped.
	for i := 0; i < 10; i++ {
		p.recordFailure(errors.New("x"))
	}
	w = p.nextWait()
	assert.LessOrEqual(t, w, time.Duration(float64(10*time.Second)*8*1.2))
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource()
	p := New(src, nil, nil, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Latest() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestForceRefreshShortensWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newFakeSource()
	p := New(src, nil, nil, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Latest() != nil }, 2*time.Second, 10*time.Millisecond)
	first := p.Latest().UpdatedAt

	p.ForceRefresh()
	require.Eventually(t, func() bool {
		return p.Latest().UpdatedAt.After(first)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
