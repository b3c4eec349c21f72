// SPDX-License-Identifier: MIT

// Package config loads and validates the spand configuration with the
// precedence ENV > file > defaults, and supports hot reloading.
package config

import (
	"path/filepath"
	"time"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	// Panel connection
	PanelHost    string        `yaml:"panelHost"`
	AccessToken  string        `yaml:"accessToken"`
	TokenFile    string        `yaml:"tokenFile"`
	ScanInterval time.Duration `yaml:"scanInterval"`

	// Local API
	ListenAddr     string `yaml:"listenAddr"`
	APIToken       string `yaml:"apiToken"`
	TrustedProxies string `yaml:"trustedProxies"` // CSV of CIDRs

	// Operational
	LogLevel string `yaml:"logLevel"`
	DataDir  string `yaml:"dataDir"`

	// Panel feature options
	EnableBattery bool `yaml:"enableBattery"`
	EnableSolar   bool `yaml:"enableSolar"`
	InverterLeg1  int  `yaml:"inverterLeg1"`
	InverterLeg2  int  `yaml:"inverterLeg2"`

	Redis     RedisConfig     `yaml:"redis"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// Version is injected by main, not configurable.
	Version string `yaml:"-"`
}

// RedisConfig enables the shared response cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HistoryConfig controls the sqlite energy history.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
}

// TelemetryConfig controls OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc|http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// RateLimitConfig bounds the local API and relay command throughput.
type RateLimitConfig struct {
	APIPerIPPerMinute     int `yaml:"apiPerIpPerMinute"`
	RelayPerCircuitPerMin int `yaml:"relayPerCircuitPerMinute"`
	RelayGlobalPerMin     int `yaml:"relayGlobalPerMinute"`
}

const (
	// DefaultScanInterval is how often the panel is polled by default.
	DefaultScanInterval = 15 * time.Second

	// MinScanInterval is the lowest poll interval the panel tolerates well.
	MinScanInterval = 5 * time.Second
)

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ScanInterval: DefaultScanInterval,
		ListenAddr:   ":8090",
		LogLevel:     "info",
		DataDir:      "/var/lib/spand",
		History: HistoryConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			SamplingRate: 0.1,
		},
		RateLimit: RateLimitConfig{
			APIPerIPPerMinute:     120,
			RelayPerCircuitPerMin: 6,
			RelayGlobalPerMin:     30,
		},
	}
}

// ResolveTokenFile returns the effective token file path, defaulting to
// <dataDir>/token.
func (c AppConfig) ResolveTokenFile() string {
	if c.TokenFile != "" {
		return c.TokenFile
	}
	return filepath.Join(c.DataDir, "token")
}
