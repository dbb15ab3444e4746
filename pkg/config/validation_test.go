package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Default configuration must validate, got %v", err)
	}
}

func TestValidate_BackendType(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.Type = "floppy"

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for unknown backend type")
	}
}

func TestValidate_UmaskRange(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.Umask = 0o1000

	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for out-of-range umask")
	}
}

func TestValidate_MetricsRequireAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Server.MetricsEnabled = true
	cfg.Server.MetricsAddr = ""

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "metrics_addr") {
		t.Errorf("Expected metrics_addr error, got %v", err)
	}
}

func TestValidate_IntrRequiresSignal(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.Intr = true
	cfg.Mount.IntrSignal = 0

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "intr_signal") {
		t.Errorf("Expected intr_signal error, got %v", err)
	}
}

func TestValidate_ACAttrNeedsAutoCache(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.ACAttrTimeoutSet = true

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "auto_cache") {
		t.Errorf("Expected auto_cache error, got %v", err)
	}

	cfg.Mount.AutoCache = true
	if err := Validate(cfg); err != nil {
		t.Errorf("ac_attr_timeout with auto_cache must validate, got %v", err)
	}
}

func TestValidate_DirectIOKernelCacheExclusive(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.DirectIO = true
	cfg.Mount.KernelCache = true

	if err := Validate(cfg); err == nil {
		t.Error("Expected error for direct_io together with kernel_cache")
	}
}

func TestValidate_RememberLowerBound(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.Remember = -1
	if err := Validate(cfg); err != nil {
		t.Errorf("remember = -1 must validate, got %v", err)
	}

	cfg.Mount.Remember = -2
	if err := Validate(cfg); err == nil {
		t.Error("Expected validation error for remember below -1")
	}
}
