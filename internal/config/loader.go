// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load loads configuration. Order: defaults, then the YAML file (strict,
// unknown keys rejected), then SPAND_* environment overrides, then
// validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		if err := l.loadFile(&cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	// DataDir must be absolute to keep badger/sqlite/token paths stable
	// regardless of the working directory.
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file over the current config. Keys absent from
// the file keep their current (default) values.
func (l *Loader) loadFile(cfg *AppConfig) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

// mergeEnv applies SPAND_* environment overrides (highest priority).
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.PanelHost = ParseString("SPAND_PANEL_HOST", cfg.PanelHost)
	cfg.AccessToken = ParseString("SPAND_ACCESS_TOKEN", cfg.AccessToken)
	cfg.TokenFile = ParseString("SPAND_TOKEN_FILE", cfg.TokenFile)
	cfg.ScanInterval = ParseDuration("SPAND_SCAN_INTERVAL", cfg.ScanInterval)

	cfg.ListenAddr = ParseString("SPAND_LISTEN", cfg.ListenAddr)
	cfg.APIToken = ParseString("SPAND_API_TOKEN", cfg.APIToken)
	cfg.TrustedProxies = ParseString("SPAND_TRUSTED_PROXIES", cfg.TrustedProxies)

	cfg.LogLevel = ParseString("SPAND_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = ParseString("SPAND_DATA", cfg.DataDir)

	cfg.EnableBattery = ParseBool("SPAND_ENABLE_BATTERY", cfg.EnableBattery)
	cfg.EnableSolar = ParseBool("SPAND_ENABLE_SOLAR", cfg.EnableSolar)
	cfg.InverterLeg1 = ParseInt("SPAND_INVERTER_LEG1", cfg.InverterLeg1)
	cfg.InverterLeg2 = ParseInt("SPAND_INVERTER_LEG2", cfg.InverterLeg2)

	cfg.Redis.Addr = ParseString("SPAND_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("SPAND_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("SPAND_REDIS_DB", cfg.Redis.DB)

	cfg.History.Enabled = ParseBool("SPAND_HISTORY_ENABLED", cfg.History.Enabled)
	cfg.History.Retention = ParseDuration("SPAND_HISTORY_RETENTION", cfg.History.Retention)

	cfg.Telemetry.Enabled = ParseBool("SPAND_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString("SPAND_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString("SPAND_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("SPAND_OTEL_SAMPLING", cfg.Telemetry.SamplingRate)

	cfg.RateLimit.APIPerIPPerMinute = ParseInt("SPAND_RATE_API_PER_IP", cfg.RateLimit.APIPerIPPerMinute)
	cfg.RateLimit.RelayPerCircuitPerMin = ParseInt("SPAND_RATE_RELAY_PER_CIRCUIT", cfg.RateLimit.RelayPerCircuitPerMin)
	cfg.RateLimit.RelayGlobalPerMin = ParseInt("SPAND_RATE_RELAY_GLOBAL", cfg.RateLimit.RelayGlobalPerMin)
}
