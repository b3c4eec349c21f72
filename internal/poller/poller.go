// SPDX-License-Identifier: MIT

// Package poller assembles periodic snapshots of the panel state and fans
// them out to the API layer, the warm-state store and the energy history.
package poller

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/metrics"
	"github.com/spanops/spand/internal/spanpanel"
)

// Snapshot is one fully assembled view of the panel. It is immutable after
// publication.
type Snapshot struct {
	Status    spanpanel.StatusOut          `json:"status"`
	Panel     spanpanel.PanelState         `json:"panel"`
	Circuits  map[string]spanpanel.Circuit `json:"circuits"`
	SOE       *float64                     `json:"soe,omitempty"`
	UpdatedAt time.Time                    `json:"updatedAt"`
}

// Serial returns the panel serial the snapshot belongs to.
func (s *Snapshot) Serial() string { return s.Status.System.Serial }

// PanelSource is the slice of the panel client the poller needs.
type PanelSource interface {
	Status(ctx context.Context) (*spanpanel.StatusOut, error)
	Panel(ctx context.Context) (*spanpanel.PanelState, error)
	Circuits(ctx context.Context) (map[string]spanpanel.Circuit, error)
	BatterySOE(ctx context.Context) (*spanpanel.BatteryStorage, error)
}

// Persister stores the latest snapshot for warm restarts.
type Persister interface {
	PutSnapshot(ctx context.Context, snap *Snapshot) error
}

// Recorder appends per-circuit energy samples.
type Recorder interface {
	Append(ctx context.Context, snap *Snapshot) error
}

// Options control what a refresh collects.
type Options struct {
	Interval      time.Duration
	EnableBattery bool
	EnableSolar   bool
	InverterLeg1  int
	InverterLeg2  int
}

// SolarCircuitID is the ID of the synthesized inverter circuit.
const SolarCircuitID = "solar_inverter"

// maxBackoffFactor caps the failure backoff at interval * 2^maxBackoffFactor.
const maxBackoffFactor = 3

// Poller runs the refresh loop.
type Poller struct {
	source    PanelSource
	persister Persister // optional
	recorder  Recorder  // optional

	mu   sync.RWMutex
	opts Options

	latest atomic.Pointer[Snapshot]

	listenerMu sync.RWMutex
	listeners  []chan<- *Snapshot

	stateMu  sync.RWMutex
	lastRun  time.Time
	lastErr  string
	failures int

	kick chan struct{}
}

// New creates a poller. persister and recorder may be nil.
func New(source PanelSource, persister Persister, recorder Recorder, opts Options) *Poller {
	return &Poller{
		source:    source,
		persister: persister,
		recorder:  recorder,
		opts:      opts,
		kick:      make(chan struct{}, 1),
	}
}

// SetOptions applies new options; they take effect on the next cycle.
func (p *Poller) SetOptions(opts Options) {
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
}

func (p *Poller) options() Options {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// Latest returns the most recent snapshot, or nil before the first success.
func (p *Poller) Latest() *Snapshot {
	return p.latest.Load()
}

// Seed installs a snapshot (e.g. loaded from the warm-state store) without
// publishing it to listeners. It never replaces fresher data.
func (p *Poller) Seed(snap *Snapshot) {
	if snap == nil {
		return
	}
	if cur := p.latest.Load(); cur != nil && !cur.UpdatedAt.Before(snap.UpdatedAt) {
		return
	}
	p.latest.Store(snap)
}

// LastRun reports the time of the last successful refresh and the last
// error message (empty when the last cycle succeeded).
func (p *Poller) LastRun() (time.Time, string) {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.lastRun, p.lastErr
}

// RegisterListener registers a channel receiving every published snapshot.
// Sends are non-blocking; slow listeners miss snapshots.
func (p *Poller) RegisterListener(ch chan<- *Snapshot) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	p.listeners = append(p.listeners, ch)
}

// ForceRefresh schedules an immediate refresh.
func (p *Poller) ForceRefresh() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	logger := xlog.WithComponentFromContext(ctx, "poller")

	for {
		if err := p.RefreshOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().
				Err(err).
				Int("consecutive_failures", p.consecutiveFailures()).
				Str("event", "poll.failed").
				Msg("panel refresh failed")
		}

		wait := p.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-p.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Poller) consecutiveFailures() int {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.failures
}

// nextWait applies exponential backoff with ±20% jitter after failures.
func (p *Poller) nextWait() time.Duration {
	interval := p.options().Interval
	fails := p.consecutiveFailures()
	if fails > 0 {
		factor := fails
		if factor > maxBackoffFactor {
			factor = maxBackoffFactor
		}
		interval *= time.Duration(1 << factor)
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2) //nolint:gosec // jitter, not crypto
	return time.Duration(float64(interval) * jitter)
}

// RefreshOnce assembles and publishes a single snapshot.
func (p *Poller) RefreshOnce(ctx context.Context) error {
	logger := xlog.WithComponentFromContext(ctx, "poller")
	opts := p.options()
	start := time.Now()

	snap, stage, err := p.assemble(ctx, opts)
	if err != nil {
		metrics.IncPoll("failure")
		metrics.IncPollFailure(stage)
		p.recordFailure(err)
		return fmt.Errorf("%s: %w", stage, err)
	}

	p.latest.Store(snap)
	p.publish(snap)
	p.recordSuccess(snap)
	metrics.IncPoll("success")
	metrics.ObservePollDuration(time.Since(start).Seconds())

	// Persistence failures degrade durability, not freshness: the snapshot
	// is already published.
	if p.persister != nil {
		if err := p.persister.PutSnapshot(ctx, snap); err != nil {
			metrics.IncPollFailure("store")
			logger.Warn().Err(err).Str("event", "poll.persist_failed").Msg("snapshot persistence failed")
		}
	}
	if p.recorder != nil {
		if err := p.recorder.Append(ctx, snap); err != nil {
			metrics.IncPollFailure("history")
			metrics.IncHistoryWriteError()
			logger.Warn().Err(err).Str("event", "poll.history_failed").Msg("energy history append failed")
		}
	}

	logger.Debug().
		Str("event", "poll.success").
		Str("serial", snap.Serial()).
		Int("circuits", len(snap.Circuits)).
		Dur("took", time.Since(start)).
		Msg("snapshot refreshed")
	return nil
}

// assemble collects all documents; the snapshot only becomes visible once
// every stage succeeded.
func (p *Poller) assemble(ctx context.Context, opts Options) (*Snapshot, string, error) {
	status, err := p.source.Status(ctx)
	if err != nil {
		return nil, "status", err
	}
	panel, err := p.source.Panel(ctx)
	if err != nil {
		return nil, "panel", err
	}
	circuits, err := p.source.Circuits(ctx)
	if err != nil {
		return nil, "circuits", err
	}

	snap := &Snapshot{
		Status:    *status,
		Panel:     *panel,
		Circuits:  circuits,
		UpdatedAt: time.Now(),
	}

	if opts.EnableBattery {
		soe, err := p.source.BatterySOE(ctx)
		if err != nil {
			return nil, "soe", err
		}
		pct := soe.SOE.Percentage
		snap.SOE = &pct
	}

	if opts.EnableSolar {
		if c, ok := synthesizeSolar(panel, opts.InverterLeg1, opts.InverterLeg2); ok {
			snap.Circuits[SolarCircuitID] = c
		}
	}

	observeSnapshot(snap)
	return snap, "", nil
}

// synthesizeSolar builds a virtual circuit from the two unmapped inverter
// feed positions. A solar inverter wired to panel tabs has no circuit of
// its own, so its telemetry only exists as raw branch readings.
func synthesizeSolar(panel *spanpanel.PanelState, leg1, leg2 int) (spanpanel.Circuit, bool) {
	var (
		power    float64
		produced float64
		consumed float64
		tabs     []int
		found    bool
	)
	for _, b := range panel.Branches {
		if b.ID != leg1 && b.ID != leg2 {
			continue
		}
		power += b.InstantPowerW
		produced += b.ExportedActiveEnergyWh
		consumed += b.ImportedActiveEnergyWh
		tabs = append(tabs, b.ID)
		found = true
	}
	if !found {
		return spanpanel.Circuit{}, false
	}
	return spanpanel.Circuit{
		ID:                 SolarCircuitID,
		Name:               "Solar Inverter",
		RelayState:         spanpanel.RelayUnknown,
		InstantPowerW:      power,
		ProducedEnergyWh:   produced,
		ConsumedEnergyWh:   consumed,
		Tabs:               tabs,
		Priority:           spanpanel.PriorityUnknown,
		IsUserControllable: false,
	}, true
}

func observeSnapshot(snap *Snapshot) {
	metrics.RecordGridPower(snap.Panel.InstantGridPowerW, snap.Panel.FeedthroughPowerW)

	var open, closed, unknown int
	for _, c := range snap.Circuits {
		switch c.RelayState {
		case spanpanel.RelayOpen:
			open++
		case spanpanel.RelayClosed:
			closed++
		default:
			unknown++
		}
	}
	metrics.RecordCircuitCounts(open, closed, unknown)

	if snap.SOE != nil {
		metrics.RecordBatterySOE(*snap.SOE)
	}
}

func (p *Poller) publish(snap *Snapshot) {
	p.listenerMu.RLock()
	defer p.listenerMu.RUnlock()
	for _, ch := range p.listeners {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (p *Poller) recordSuccess(snap *Snapshot) {
	p.stateMu.Lock()
	p.lastRun = snap.UpdatedAt
	p.lastErr = ""
	p.failures = 0
	p.stateMu.Unlock()
}

func (p *Poller) recordFailure(err error) {
	p.stateMu.Lock()
	p.lastErr = err.Error()
	p.failures++
	p.stateMu.Unlock()
}
