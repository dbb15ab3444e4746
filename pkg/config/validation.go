package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct-tag validation covers the declarative constraints; custom rules
// cover cross-field relationships that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Server.MetricsEnabled && cfg.Server.MetricsAddr == "" {
		return fmt.Errorf("server: metrics_enabled requires metrics_addr")
	}

	if cfg.Mount.Intr && cfg.Mount.IntrSignal <= 0 {
		return fmt.Errorf("mount: intr requires a positive intr_signal")
	}

	if cfg.Mount.ACAttrTimeoutSet && !cfg.Mount.AutoCache {
		return fmt.Errorf("mount: ac_attr_timeout is only meaningful with auto_cache")
	}

	if cfg.Mount.DirectIO && cfg.Mount.KernelCache {
		return fmt.Errorf("mount: direct_io and kernel_cache are mutually exclusive")
	}

	return nil
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
