// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Business metrics
	gridPowerWatts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spand_grid_power_watts",
		Help: "Instant grid power of the panel in watts (last poll)",
	})

	feedthroughPowerWatts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spand_feedthrough_power_watts",
		Help: "Instant feedthrough power of the panel in watts (last poll)",
	})

	circuitsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spand_circuits_total",
		Help: "Total number of circuits reported by the panel (last poll)",
	})

	circuitsByRelayState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spand_circuits_by_relay_state",
		Help: "Circuits by relay state in last poll",
	}, []string{"state"}) // state=open|closed|unknown

	batterySOEPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spand_battery_soe_percent",
		Help: "Battery state of energy percentage (last poll, 0 when disabled)",
	})

	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spand_polls_total",
		Help: "Poll cycles by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	pollFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spand_poll_failures_total",
		Help: "Total number of poll failures by stage",
	}, []string{"stage"}) // stage=status|panel|circuits|soe|store|history

	pollDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spand_poll_duration_seconds",
		Help:    "Time spent assembling a full panel snapshot",
		Buckets: prometheus.DefBuckets,
	})

	relayCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spand_relay_commands_total",
		Help: "Relay commands by requested state and outcome",
	}, []string{"state", "outcome"}) // outcome=success|failure|rejected

	priorityCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spand_priority_commands_total",
		Help: "Circuit priority commands by outcome",
	}, []string{"outcome"})

	snapshotAgeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spand_snapshot_age_seconds",
		Help: "Age of the snapshot currently served by the API",
	})

	historySamplesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spand_history_samples_written_total",
		Help: "Energy history samples written to sqlite",
	})

	historyWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spand_history_write_errors_total",
		Help: "Energy history write failures",
	})
)

func RecordGridPower(instantW, feedthroughW float64) {
	gridPowerWatts.Set(instantW)
	feedthroughPowerWatts.Set(feedthroughW)
}

func RecordCircuitCounts(open, closed, unknown int) {
	circuitsTotal.Set(float64(open + closed + unknown))
	circuitsByRelayState.WithLabelValues("open").Set(float64(open))
	circuitsByRelayState.WithLabelValues("closed").Set(float64(closed))
	circuitsByRelayState.WithLabelValues("unknown").Set(float64(unknown))
}

func RecordBatterySOE(pct float64) { batterySOEPercent.Set(pct) }

func IncPoll(outcome string)            { pollsTotal.WithLabelValues(outcome).Inc() }
func IncPollFailure(stage string)       { pollFailuresTotal.WithLabelValues(stage).Inc() }
func ObservePollDuration(sec float64)   { pollDurationSeconds.Observe(sec) }
func RecordSnapshotAge(sec float64)     { snapshotAgeSeconds.Set(sec) }
func AddHistorySamples(n int)           { historySamplesWritten.Add(float64(n)) }
func IncHistoryWriteError()             { historyWriteErrors.Inc() }
func IncRelayCommand(state, out string) { relayCommandsTotal.WithLabelValues(state, out).Inc() }
func IncPriorityCommand(out string)     { priorityCommandsTotal.WithLabelValues(out).Inc() }
