package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_NormalizesLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "debug"
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.MetricsAddr != ":9464" {
		t.Errorf("Expected default metrics addr ':9464', got %q", cfg.Server.MetricsAddr)
	}
}

func TestApplyDefaults_Backend(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Backend.Type != "memory" {
		t.Errorf("Expected default backend type 'memory', got %q", cfg.Backend.Type)
	}
}

func TestApplyDefaults_Mount(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Mount.EntryTimeout != time.Second {
		t.Errorf("Expected default entry timeout 1s, got %v", cfg.Mount.EntryTimeout)
	}
	if cfg.Mount.AttrTimeout != time.Second {
		t.Errorf("Expected default attr timeout 1s, got %v", cfg.Mount.AttrTimeout)
	}
	if cfg.Mount.IntrSignal != 10 {
		t.Errorf("Expected default intr signal 10, got %d", cfg.Mount.IntrSignal)
	}
}

func TestApplyDefaults_ACAttrTimeoutFallsBack(t *testing.T) {
	cfg := &Config{}
	cfg.Mount.AttrTimeout = 5 * time.Second
	ApplyDefaults(cfg)

	if cfg.Mount.ACAttrTimeout != 5*time.Second {
		t.Errorf("Expected ac_attr_timeout to fall back to attr_timeout, got %v", cfg.Mount.ACAttrTimeout)
	}

	cfg = &Config{}
	cfg.Mount.ACAttrTimeoutSet = true
	cfg.Mount.ACAttrTimeout = 2 * time.Second
	cfg.Mount.AttrTimeout = 5 * time.Second
	ApplyDefaults(cfg)

	if cfg.Mount.ACAttrTimeout != 2*time.Second {
		t.Errorf("Expected explicit ac_attr_timeout to survive, got %v", cfg.Mount.ACAttrTimeout)
	}
}
