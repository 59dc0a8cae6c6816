// Package config loads and validates the botlink daemon configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/botlink/internal/gateway"
)

// ServiceConfig is the full daemon configuration: the peer-facing gateway
// plus the operator-facing admin surface.
type ServiceConfig struct {
	Gateway     gateway.Config
	AdminAddr   string
	CorsOrigins []string
}

func Default() ServiceConfig {
	return ServiceConfig{
		Gateway:   gateway.DefaultConfig(),
		AdminAddr: "127.0.0.1:9300",
	}
}

// fileConfig mirrors the TOML layout. Durations travel as strings so the
// file can say "30s" instead of nanosecond counts.
type fileConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	AdminAddr        string   `toml:"admin_addr"`
	CorsOrigins      []string `toml:"cors_origins"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	WriteTimeout     string   `toml:"write_timeout"`
	CallTimeout      string   `toml:"call_timeout"`
	RetryAttempts    int      `toml:"retry_attempts"`
	RetryDelay       string   `toml:"retry_delay"`
	MaxInFlight      int      `toml:"max_in_flight"`
	PingInterval     string   `toml:"ping_interval"`
	DeadAfter        string   `toml:"dead_after"`
	EventBuffer      int      `toml:"event_buffer"`
	ShutdownGrace    string   `toml:"shutdown_grace"`
	TLS              struct {
		Enabled  bool   `toml:"enabled"`
		CertFile string `toml:"cert_file"`
		KeyFile  string `toml:"key_file"`
	} `toml:"tls"`
}

// Load reads a TOML config and applies it over the defaults. Only keys
// actually present in the file override; absent keys keep their default.
func Load(path string) (ServiceConfig, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("load botlink config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
			cfg.Gateway.ListenAddr = addr
		}
	}
	if meta.IsDefined("admin_addr") {
		if addr := strings.TrimSpace(raw.AdminAddr); addr != "" {
			cfg.AdminAddr = addr
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("retry_attempts") {
		cfg.Gateway.RetryAttempts = raw.RetryAttempts
	}
	if meta.IsDefined("max_in_flight") {
		cfg.Gateway.MaxInFlight = raw.MaxInFlight
	}
	if meta.IsDefined("event_buffer") {
		cfg.Gateway.EventBuffer = raw.EventBuffer
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Gateway.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Gateway.WriteTimeout},
		{"call_timeout", raw.CallTimeout, &cfg.Gateway.CallTimeout},
		{"retry_delay", raw.RetryDelay, &cfg.Gateway.RetryDelay},
		{"ping_interval", raw.PingInterval, &cfg.Gateway.PingInterval},
		{"dead_after", raw.DeadAfter, &cfg.Gateway.DeadAfter},
		{"shutdown_grace", raw.ShutdownGrace, &cfg.Gateway.ShutdownGrace},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.Gateway.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.Gateway.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.Gateway.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}

	cfg.Gateway = cfg.Gateway.WithDefaults()
	if err := cfg.Gateway.Validate(); err != nil {
		return ServiceConfig{}, err
	}
	if strings.TrimSpace(cfg.AdminAddr) == "" {
		return ServiceConfig{}, fmt.Errorf("botlink config missing admin_addr")
	}
	return cfg, nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
