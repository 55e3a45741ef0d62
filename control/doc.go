// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics, debug probes, rate-limit burst reset and
// service-manager lifecycle notifications.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed config snapshots with reload listeners
//   - VictoriaMetrics counters for socket activity
//   - Named probes dumped as structured log fields
//   - A periodic burst reset executed on the reactor goroutine
package control
