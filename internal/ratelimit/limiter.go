// SPDX-License-Identifier: MIT

// Package ratelimit throttles relay and priority commands. The panel's
// breakers are physical hardware; flapping them at request speed shortens
// relay life, so commands are limited both globally and per circuit.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var commandsRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "spand_commands_rejected_total",
		Help: "Control commands rejected by rate limiting",
	},
	[]string{"limit_type"}, // limit_type=global|per_circuit
)

// Config holds command rate limiting configuration, expressed in commands
// per minute to match how panel control is actually used.
type Config struct {
	GlobalPerMinute     int
	PerCircuitPerMinute int

	// CleanupInterval bounds the per-circuit limiter map.
	CleanupInterval time.Duration
}

// DefaultConfig allows a relay toggle roughly every 10s per circuit.
func DefaultConfig() Config {
	return Config{
		GlobalPerMinute:     30,
		PerCircuitPerMinute: 6,
		CleanupInterval:     10 * time.Minute,
	}
}

// Limiter enforces global and per-circuit command limits.
type Limiter struct {
	config Config

	global     *rate.Limiter
	perCircuit map[string]*rate.Limiter
	mu         sync.Mutex

	lastCleanup time.Time
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60)
}

// New creates a command limiter with the given config.
func New(config Config) *Limiter {
	return &Limiter{
		config:      config,
		global:      rate.NewLimiter(perMinute(config.GlobalPerMinute), config.GlobalPerMinute),
		perCircuit:  make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a command for circuitID may proceed.
func (l *Limiter) Allow(circuitID string) bool {
	if !l.global.Allow() {
		commandsRejected.WithLabelValues("global").Inc()
		return false
	}

	if !l.circuitLimiter(circuitID).Allow() {
		commandsRejected.WithLabelValues("per_circuit").Inc()
		return false
	}

	l.maybeCleanup()
	return true
}

func (l *Limiter) circuitLimiter(circuitID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.perCircuit[circuitID]
	if !exists {
		limiter = rate.NewLimiter(perMinute(l.config.PerCircuitPerMinute), l.config.PerCircuitPerMinute)
		l.perCircuit[circuitID] = limiter
	}
	return limiter
}

func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.perCircuit = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}
