// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the YAML configuration document that
// drives queue count, flow limits, rules, and the stats endpoint address.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	ipserrors "sentryline.dev/ipsentry/internal/errors"
	"sentryline.dev/ipsentry/internal/logging"
)

// HTTPMetricsConfig configures the stats/health HTTP listener.
type HTTPMetricsConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RuleConfig is one entry of the `rules:` list.
type RuleConfig struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	Pattern  string `yaml:"pattern"`
	Protocol string `yaml:"protocol"`
	Action   string `yaml:"action"`
}

// Config is the top-level document described in SPEC_FULL.md §6.
type Config struct {
	Queues                   int                  `yaml:"queues"`
	MaxBufferSize            int                  `yaml:"max_buffer_size"`
	MaxScanWindow            int                  `yaml:"max_scan_window"`
	FlowTimeoutSeconds       int                  `yaml:"flow_timeout"`
	LogFlushIntervalSeconds  int                  `yaml:"log_flush_interval"`
	ICMPSizeHeuristicEnabled *bool                `yaml:"icmp_size_heuristic_enabled"`
	HTTPMetrics              HTTPMetricsConfig    `yaml:"http_metrics"`
	Syslog                   logging.SyslogConfig `yaml:"syslog"`
	Rules                    []RuleConfig         `yaml:"rules"`
}

// Default returns a Config populated with every field's documented default.
func Default() *Config {
	enabled := true
	return &Config{
		Queues:                  4,
		MaxBufferSize:           65536,
		MaxScanWindow:           8192,
		FlowTimeoutSeconds:      60,
		LogFlushIntervalSeconds: 60,
		ICMPSizeHeuristicEnabled: &enabled,
		HTTPMetrics: HTTPMetricsConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Syslog: logging.DefaultSyslogConfig(),
	}
}

// LoadFile reads and validates a configuration document from path. Missing
// or malformed documents, and any invalid rule, are a Configuration-kind
// error per the error taxonomy — fatal at startup.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ipserrors.Wrapf(err, ipserrors.KindConfiguration, "read config %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ipserrors.Wrapf(err, ipserrors.KindConfiguration, "parse config %s", path)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields left unset by a partial
// document, mirroring the original's module-level default constants.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Queues <= 0 {
		cfg.Queues = d.Queues
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = d.MaxBufferSize
	}
	if cfg.MaxScanWindow <= 0 {
		cfg.MaxScanWindow = d.MaxScanWindow
	}
	if cfg.FlowTimeoutSeconds <= 0 {
		cfg.FlowTimeoutSeconds = d.FlowTimeoutSeconds
	}
	if cfg.LogFlushIntervalSeconds <= 0 {
		cfg.LogFlushIntervalSeconds = d.LogFlushIntervalSeconds
	}
	if cfg.ICMPSizeHeuristicEnabled == nil {
		cfg.ICMPSizeHeuristicEnabled = d.ICMPSizeHeuristicEnabled
	}
	if cfg.HTTPMetrics.Host == "" {
		cfg.HTTPMetrics.Host = d.HTTPMetrics.Host
	}
	if cfg.HTTPMetrics.Port == 0 {
		cfg.HTTPMetrics.Port = d.HTTPMetrics.Port
	}
	if cfg.Syslog.Protocol == "" {
		cfg.Syslog.Protocol = d.Syslog.Protocol
	}
	if cfg.Syslog.Port == 0 {
		cfg.Syslog.Port = d.Syslog.Port
	}
	if cfg.Syslog.Tag == "" {
		cfg.Syslog.Tag = d.Syslog.Tag
	}
}

// Validate enforces field-level invariants and unique rule ids. It does not
// compile patterns; that is the Matcher's job at build time (a
// RuleCompilation-kind error, not a Configuration one).
func (c *Config) Validate() error {
	if c.Queues < 1 {
		return ipserrors.New(ipserrors.KindConfiguration, "queues must be >= 1")
	}
	if c.MaxBufferSize < 1 {
		return ipserrors.New(ipserrors.KindConfiguration, "max_buffer_size must be >= 1")
	}
	if c.MaxScanWindow < 1 {
		return ipserrors.New(ipserrors.KindConfiguration, "max_scan_window must be >= 1")
	}

	seen := make(map[string]struct{}, len(c.Rules))
	for i, r := range c.Rules {
		if r.ID == "" {
			return ipserrors.Errorf(ipserrors.KindConfiguration, "rules[%d]: id is required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return ipserrors.Errorf(ipserrors.KindConfiguration, "rules[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}

		switch r.Type {
		case "literal", "regex":
		default:
			return ipserrors.Errorf(ipserrors.KindConfiguration, "rules[%d]: unknown type %q", i, r.Type)
		}
		if r.Pattern == "" {
			return ipserrors.Errorf(ipserrors.KindConfiguration, "rules[%d]: pattern is required", i)
		}
		switch r.Protocol {
		case "", "any", "tcp", "udp", "icmp":
		default:
			return ipserrors.Errorf(ipserrors.KindConfiguration, "rules[%d]: unknown protocol %q", i, r.Protocol)
		}
		switch r.Action {
		case "", "drop", "accept", "alert":
		default:
			return ipserrors.Errorf(ipserrors.KindConfiguration, "rules[%d]: unknown action %q", i, r.Action)
		}
	}
	return nil
}

// Addr returns the "host:port" listen address for the stats endpoint.
func (c HTTPMetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
