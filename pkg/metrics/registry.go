// Package metrics provides Prometheus metrics collection for fusegate
// components.
//
// All metrics are optional - if the registry is never initialized, the
// constructors return no-op implementations with zero overhead, so the
// dispatch layer runs with or without metrics collection enabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	dispatchMetrics := metrics.NewDispatchMetrics()
//
//	// Or use nil for no-op behavior
//	router := dispatch.New(ops, mount, nil) // No metrics
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry for all fusegate metrics
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// Must be called before creating metrics instances; safe to call multiple
// times. If never called, constructors return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
