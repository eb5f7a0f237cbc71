// Package server implements the HTTP control API of the daemon and the
// WebSocket event stream consumed by the UI. Control endpoints map onto the
// session engine; monitoring endpoints expose status, statistics, the
// redacted configuration and Prometheus metrics.
package server
