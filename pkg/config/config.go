// Package config loads and validates the fusegate configuration: logging,
// server lifecycle, backend selection and the mount-time policy snapshot
// consumed by the dispatch layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete fusegate configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FUSEGATE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Backend Configuration Pattern:
// Each backend implementation defines its own option set. The Config struct
// contains one type-specific section per backend (backend.memory,
// backend.badger, backend.s3) and only the section matching the selected
// type is decoded, via the factory functions in this package.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-lifecycle and metrics settings
	Server ServerConfig `mapstructure:"server"`

	// Backend selects the storage backend and its options
	Backend BackendConfig `mapstructure:"backend"`

	// Mount is the dispatch policy snapshot, resolved once at startup
	Mount MountConfig `mapstructure:"mount"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written: stdout, stderr, or a path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// MetricsEnabled turns on the Prometheus exposition endpoint
	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// MetricsAddr is the listen address of the metrics endpoint
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// BackendConfig selects the storage backend.
//
// The Type field determines which implementation is used; only the
// corresponding option section is decoded.
type BackendConfig struct {
	// Type specifies which backend implementation to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory badger s3"`

	// Memory contains memory-backend options (none today, reserved)
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-backend options
	Badger map[string]any `mapstructure:"badger"`

	// S3 contains object-store-backend options
	S3 map[string]any `mapstructure:"s3"`
}

// MountConfig is the static policy snapshot the dispatch layer consults.
//
// It is resolved once at initialization and read-only afterwards, so every
// component shares it without synchronization.
type MountConfig struct {
	// EntryTimeout is the caching duration hint for positive lookups,
	// reported to the caller, not enforced internally
	EntryTimeout time.Duration `mapstructure:"entry_timeout"`

	// NegativeTimeout is the caching duration hint for failed lookups
	NegativeTimeout time.Duration `mapstructure:"negative_timeout"`

	// AttrTimeout is the caching duration hint for attributes
	AttrTimeout time.Duration `mapstructure:"attr_timeout"`

	// ACAttrTimeout is the attribute-freshness window used by the
	// auto_cache open-time comparison; falls back to AttrTimeout when
	// unset
	ACAttrTimeoutSet bool          `mapstructure:"ac_attr_timeout_set"`
	ACAttrTimeout    time.Duration `mapstructure:"ac_attr_timeout"`

	// SetUID/SetGID overwrite reported ownership post-call
	SetUID bool   `mapstructure:"set_uid"`
	UID    uint32 `mapstructure:"uid"`
	SetGID bool   `mapstructure:"set_gid"`
	GID    uint32 `mapstructure:"gid"`

	// SetMode unsets the Umask bits in every reported mode
	SetMode bool   `mapstructure:"set_mode"`
	Umask   uint32 `mapstructure:"umask" validate:"lte=511"`

	// UseIno surfaces backend-supplied inode numbers in attributes
	UseIno bool `mapstructure:"use_ino"`

	// ReaddirIno fills directory-entry inode numbers from the internal
	// identity map when UseIno is off
	ReaddirIno bool `mapstructure:"readdir_ino"`

	// DirectIO/KernelCache/AutoCache are forced onto every open's handle
	// traits, overriding backend-set values
	DirectIO    bool `mapstructure:"direct_io"`
	KernelCache bool `mapstructure:"kernel_cache"`
	AutoCache   bool `mapstructure:"auto_cache"`

	// AtomicOTrunc delivers O_TRUNC to the backend open instead of
	// decomposing it into truncate+open
	AtomicOTrunc bool `mapstructure:"atomic_o_trunc"`

	// NullpathOK permits omitting the path argument for handle-scoped
	// operations
	NullpathOK bool `mapstructure:"nullpath_ok"`

	// HardRemove disables the rename-to-hidden-file handling of
	// unlink-of-open-file
	HardRemove bool `mapstructure:"hard_remove"`

	// Intr allows blocking lock waits to be cancelled; IntrSignal is the
	// signal number the transport maps onto the cancellation
	Intr       bool `mapstructure:"intr"`
	IntrSignal int  `mapstructure:"intr_signal" validate:"gte=0,lte=64"`

	// Remember is the minimum retention of internal identity mappings in
	// seconds; -1 keeps them for the lifetime of the process
	Remember int `mapstructure:"remember" validate:"gte=-1"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and config file lookup.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the FUSEGATE_ prefix with underscores.
	// Example: FUSEGATE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FUSEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is acceptable; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fusegate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "fusegate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
