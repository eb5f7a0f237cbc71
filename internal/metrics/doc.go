// Package metrics defines the Prometheus instruments of the daemon. Metrics
// are registered on an injected registry so tests can build isolated sets.
package metrics
