package config

import (
	"strings"
	"time"
)

// Default values applied to any configuration field left unset.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsAddr     = ":9464"

	DefaultBackendType = "memory"

	DefaultEntryTimeout = 1 * time.Second
	DefaultAttrTimeout  = 1 * time.Second

	// DefaultIntrSignal is SIGUSR1.
	DefaultIntrSignal = 10
)

// ApplyDefaults fills every unset field with its default value and
// normalizes the log level to uppercase.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = DefaultMetricsAddr
	}

	if cfg.Backend.Type == "" {
		cfg.Backend.Type = DefaultBackendType
	}

	if cfg.Mount.EntryTimeout == 0 {
		cfg.Mount.EntryTimeout = DefaultEntryTimeout
	}
	if cfg.Mount.AttrTimeout == 0 {
		cfg.Mount.AttrTimeout = DefaultAttrTimeout
	}
	if !cfg.Mount.ACAttrTimeoutSet {
		cfg.Mount.ACAttrTimeout = cfg.Mount.AttrTimeout
	}
	if cfg.Mount.IntrSignal == 0 {
		cfg.Mount.IntrSignal = DefaultIntrSignal
	}
}
