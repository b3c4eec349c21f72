// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"

	"github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/netutil"
)

var (
	ErrMissingPanelHost = errors.New("panel host is required (SPAND_PANEL_HOST or panelHost)")
	ErrMissingDataDir   = errors.New("data directory is required")
)

// Validate checks cfg for coherence. The scan interval is clamped to the
// floor rather than rejected.
func Validate(cfg *AppConfig) error {
	logger := log.WithComponent("config")

	if cfg.PanelHost == "" {
		return ErrMissingPanelHost
	}
	if _, err := netutil.BaseURL(cfg.PanelHost); err != nil {
		return fmt.Errorf("panel host: %w", err)
	}

	if cfg.DataDir == "" {
		return ErrMissingDataDir
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen address must not be empty")
	}

	if cfg.ScanInterval < MinScanInterval {
		logger.Warn().
			Dur("requested", cfg.ScanInterval).
			Dur("floor", MinScanInterval).
			Str("event", "config.scan_interval_clamped").
			Msg("scan interval below floor, clamping")
		cfg.ScanInterval = MinScanInterval
	}

	if cfg.EnableSolar {
		if cfg.InverterLeg1 <= 0 || cfg.InverterLeg2 <= 0 {
			return errors.New("solar circuit requires both inverter leg positions (inverterLeg1/inverterLeg2)")
		}
		if cfg.InverterLeg1 == cfg.InverterLeg2 {
			return errors.New("inverter legs must be distinct panel positions")
		}
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("unsupported telemetry exporter %q (supported: grpc, http)", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.Endpoint == "" {
			return errors.New("telemetry enabled but no endpoint configured")
		}
	}

	if cfg.RateLimit.APIPerIPPerMinute <= 0 ||
		cfg.RateLimit.RelayPerCircuitPerMin <= 0 ||
		cfg.RateLimit.RelayGlobalPerMin <= 0 {
		return errors.New("rate limits must be positive")
	}

	return nil
}
