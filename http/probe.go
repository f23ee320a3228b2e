// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http

import (
	"context"
	"net/http"

	"github.com/z5labs/relay"
	"github.com/z5labs/relay/app"
	"github.com/z5labs/relay/health"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// Probes routes the Kubernetes style health endpoints:
//   - GET /health/liveness
//   - GET /health/readiness
//
// Every other request is answered with 404.
func Probes(liveness, readiness health.Monitor) http.Handler {
	log := relay.Logger("github.com/z5labs/relay/http")

	m := chi.NewMux()
	m.Get("/health/liveness", health.Handler(log, liveness).ServeHTTP)
	m.Get("/health/readiness", health.Handler(log, readiness).ServeHTTP)
	return m
}

// SidecarRuntime runs a main runtime next to a probe server.
type SidecarRuntime struct {
	main   app.Runtime
	server app.Runtime
}

// WithSidecar builds main and then the probe server. The server is
// stopped once main returns and main is cancelled if the server fails.
func WithSidecar[T app.Runtime](main app.Builder[T], server app.Builder[App]) app.Builder[SidecarRuntime] {
	return app.Bind(main, func(rt T) app.Builder[SidecarRuntime] {
		return app.BuilderFunc[SidecarRuntime](func(ctx context.Context) (SidecarRuntime, error) {
			srv, err := server.Build(ctx)
			if err != nil {
				return SidecarRuntime{}, err
			}
			return SidecarRuntime{main: rt, server: srv}, nil
		})
	})
}

// Run implements the [app.Runtime] interface.
func (rt SidecarRuntime) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(egCtx)
	defer stopServer()

	eg.Go(func() error {
		defer stopServer()
		return rt.main.Run(egCtx)
	})
	eg.Go(func() error {
		return rt.server.Run(serverCtx)
	})
	return eg.Wait()
}
