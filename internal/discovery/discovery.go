// SPDX-License-Identifier: MIT

// Package discovery locates SPAN panels on the local network via mDNS.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/grandcat/zeroconf"
	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/netutil"
	"github.com/spanops/spand/internal/spanpanel"
)

const (
	// mDNS service type announced by SPAN panels.
	serviceType   = "_span._tcp"
	serviceDomain = "local."
)

// Candidate is a validated panel found on the network.
type Candidate struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Instance string `json:"instance"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

// prober validates a discovered host and resolves its serial. Overridable in
// tests.
type prober func(ctx context.Context, host string) (serial, firmware string, err error)

// Browser discovers panels.
type Browser struct {
	probe prober
}

// NewBrowser creates a Browser that validates candidates against the panel
// status endpoint.
func NewBrowser() *Browser {
	return &Browser{probe: probeStatus}
}

func probeStatus(ctx context.Context, host string) (string, string, error) {
	cl, err := spanpanel.New(host, spanpanel.WithTimeout(5*time.Second))
	if err != nil {
		return "", "", err
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return "", "", err
	}
	return st.System.Serial, st.Software.FirmwareVersion, nil
}

// Browse scans the network for the given duration and returns validated,
// deduplicated candidates sorted by host.
func (b *Browser) Browse(ctx context.Context, timeout time.Duration) ([]Candidate, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create mDNS resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, serviceType, serviceDomain, entries); err != nil {
		return nil, fmt.Errorf("mDNS browse: %w", err)
	}

	return b.collect(ctx, entries), nil
}

// collect validates and deduplicates announced entries until the channel
// closes.
func (b *Browser) collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) []Candidate {
	logger := xlog.WithComponentFromContext(ctx, "discovery")

	seen := make(map[string]struct{})
	var out []Candidate

	for entry := range entries {
		// Panels announce over IPv4; skip everything else.
		var host string
		for _, ip := range entry.AddrIPv4 {
			if netutil.IsIPv4(ip.String()) {
				host = ip.String()
				break
			}
		}
		if host == "" {
			logger.Debug().
				Str("event", "discovery.skipped_non_ipv4").
				Str("instance", entry.Instance).
				Msg("skipping non-IPv4 announcement")
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}

		serial, firmware, err := b.probe(ctx, host)
		if err != nil {
			logger.Debug().
				Err(err).
				Str("event", "discovery.probe_failed").
				Str("host", host).
				Msg("announced host is not a reachable SPAN panel")
			continue
		}

		logger.Info().
			Str("event", "discovery.found").
			Str("host", host).
			Str("serial", serial).
			Msg("found SPAN panel")

		out = append(out, Candidate{
			Host:     host,
			Port:     entry.Port,
			Instance: entry.Instance,
			Serial:   serial,
			Firmware: firmware,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}
