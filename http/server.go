// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package http serves the health probes of a relay service next to its
// queue runtime.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/z5labs/relay/app"
	"github.com/z5labs/relay/config"

	"github.com/sourcegraph/conc/pool"
)

// TCPListener reads a TCP listener for Addr, which defaults to ":8080".
type TCPListener struct {
	Addr config.Reader[string]
}

// Read implements the [config.Reader] interface.
func (tcpLn TCPListener) Read(ctx context.Context) (config.Value[net.Listener], error) {
	addr, err := config.Read(ctx, tcpLn.Addr)
	if errors.Is(err, config.ErrValueNotSet) {
		addr, err = ":8080", nil
	}
	if err != nil {
		return config.Value[net.Listener]{}, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return config.Value[net.Listener]{}, err
	}
	return config.ValueOf(ln), nil
}

// Server holds the configuration of the probe server. Unset timeouts
// fall back to the defaults listed on [ServerFromEnv].
type Server struct {
	Listener          config.Reader[net.Listener]
	ReadTimeout       config.Reader[time.Duration]
	ReadHeaderTimeout config.Reader[time.Duration]
	WriteTimeout      config.Reader[time.Duration]
	IdleTimeout       config.Reader[time.Duration]
}

// ServerFromEnv reads the probe server configuration from:
//   - HTTP_ADDR: listen address (default ":8080")
//   - HTTP_READ_TIMEOUT: (default 5s)
//   - HTTP_READ_HEADER_TIMEOUT: (default 2s)
//   - HTTP_WRITE_TIMEOUT: (default 10s)
//   - HTTP_IDLE_TIMEOUT: (default 120s)
func ServerFromEnv() Server {
	return Server{
		Listener:          TCPListener{Addr: config.Env("HTTP_ADDR")},
		ReadTimeout:       config.DurationFromString(config.Env("HTTP_READ_TIMEOUT")),
		ReadHeaderTimeout: config.DurationFromString(config.Env("HTTP_READ_HEADER_TIMEOUT")),
		WriteTimeout:      config.DurationFromString(config.Env("HTTP_WRITE_TIMEOUT")),
		IdleTimeout:       config.DurationFromString(config.Env("HTTP_IDLE_TIMEOUT")),
	}
}

// App is a running HTTP server.
type App struct {
	ls  net.Listener
	srv *http.Server
}

// Run serves until ctx is cancelled and then shuts the server down.
// A clean shutdown returns nil.
func (a App) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx)

	p.Go(func(ctx context.Context) error {
		return a.srv.Serve(a.ls)
	})

	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return a.srv.Shutdown(context.Background())
	})

	err := p.Wait()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Build creates the server from srv once the handler has been built.
func Build(srv Server, b app.Builder[http.Handler]) app.Builder[App] {
	return app.Bind(b, func(h http.Handler) app.Builder[App] {
		return app.BuilderFunc[App](func(ctx context.Context) (App, error) {
			readTimeout, err := readOr(ctx, 5*time.Second, srv.ReadTimeout)
			if err != nil {
				return App{}, err
			}
			readHeaderTimeout, err := readOr(ctx, 2*time.Second, srv.ReadHeaderTimeout)
			if err != nil {
				return App{}, err
			}
			writeTimeout, err := readOr(ctx, 10*time.Second, srv.WriteTimeout)
			if err != nil {
				return App{}, err
			}
			idleTimeout, err := readOr(ctx, 120*time.Second, srv.IdleTimeout)
			if err != nil {
				return App{}, err
			}

			ln, err := config.Read(ctx, srv.Listener)
			if err != nil {
				return App{}, err
			}

			return App{
				ls: ln,
				srv: &http.Server{
					Handler:           h,
					ReadTimeout:       readTimeout,
					ReadHeaderTimeout: readHeaderTimeout,
					WriteTimeout:      writeTimeout,
					IdleTimeout:       idleTimeout,
				},
			}, nil
		})
	})
}

func readOr[T any](ctx context.Context, def T, r config.Reader[T]) (T, error) {
	v, err := config.Read(ctx, r)
	if errors.Is(err, config.ErrValueNotSet) {
		return def, nil
	}
	return v, err
}
