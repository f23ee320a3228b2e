// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health reports whether parts of a relay service are able to
// make progress, e.g. whether a consumer is currently consuming.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Monitor reports the current health of a component.
type Monitor interface {
	Healthy(context.Context) (bool, error)
}

// MonitorFunc is a func type which implements [Monitor].
type MonitorFunc func(context.Context) (bool, error)

// Healthy implements the [Monitor] interface.
func (f MonitorFunc) Healthy(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Alive is a [Monitor] which is always healthy. It suits liveness
// probes which only check that the process still serves requests.
var Alive Monitor = MonitorFunc(func(context.Context) (bool, error) {
	return true, nil
})

// Binary is a [Monitor] toggled by its owner. It is safe for concurrent
// use and the zero value is unhealthy.
type Binary struct {
	healthy atomic.Bool
}

// MarkHealthy changes the state to healthy.
func (b *Binary) MarkHealthy() {
	b.healthy.Store(true)
}

// MarkUnhealthy changes the state to unhealthy.
func (b *Binary) MarkUnhealthy() {
	b.healthy.Store(false)
}

// Healthy implements the [Monitor] interface.
func (b *Binary) Healthy(ctx context.Context) (bool, error) {
	return b.healthy.Load(), nil
}

// AndMonitor is healthy only if all of its monitors are. It stops at the
// first unhealthy monitor or error.
type AndMonitor []Monitor

// And combines ms into an [AndMonitor].
func And(ms ...Monitor) AndMonitor {
	return AndMonitor(ms)
}

// Healthy implements the [Monitor] interface.
func (am AndMonitor) Healthy(ctx context.Context) (bool, error) {
	for _, m := range am {
		healthy, err := m.Healthy(ctx)
		if !healthy || err != nil {
			return healthy, err
		}
	}
	return true, nil
}

// OrMonitor is healthy if any of its monitors is. Errors from the
// remaining monitors are joined and only returned when none is healthy.
type OrMonitor []Monitor

// Or combines ms into an [OrMonitor].
func Or(ms ...Monitor) OrMonitor {
	return OrMonitor(ms)
}

// Healthy implements the [Monitor] interface.
func (om OrMonitor) Healthy(ctx context.Context) (bool, error) {
	errs := make([]error, 0, len(om))
	for _, m := range om {
		healthy, err := m.Healthy(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if healthy {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// Handler serves the state of m as a probe endpoint: 200 when healthy
// and 503 otherwise. Errors are logged to log and reported as unhealthy.
func Handler(log *slog.Logger, m Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthy, err := m.Healthy(r.Context())
		if err != nil {
			log.ErrorContext(r.Context(), "health check failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		if !healthy || err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}
