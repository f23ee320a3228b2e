// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func unhealthy(err error) Monitor {
	return MonitorFunc(func(ctx context.Context) (bool, error) {
		return false, err
	})
}

func TestBinary_Healthy(t *testing.T) {
	t.Run("will be unhealthy", func(t *testing.T) {
		t.Run("by default", func(t *testing.T) {
			var b Binary

			healthy, err := b.Healthy(context.Background())
			require.NoError(t, err)
			require.False(t, healthy)
		})

		t.Run("once marked unhealthy", func(t *testing.T) {
			var b Binary
			b.MarkHealthy()
			b.MarkUnhealthy()

			healthy, err := b.Healthy(context.Background())
			require.NoError(t, err)
			require.False(t, healthy)
		})
	})

	t.Run("will be healthy once marked healthy", func(t *testing.T) {
		var b Binary
		b.MarkHealthy()

		healthy, err := b.Healthy(context.Background())
		require.NoError(t, err)
		require.True(t, healthy)
	})
}

func TestAndMonitor_Healthy(t *testing.T) {
	t.Run("will return unhealthy", func(t *testing.T) {
		t.Run("if at least one of the monitors is unhealthy", func(t *testing.T) {
			var a, b, c Binary
			a.MarkHealthy()
			c.MarkHealthy()

			healthy, err := And(&a, &b, &c).Healthy(context.Background())
			require.NoError(t, err)
			require.False(t, healthy)
		})
	})

	t.Run("will return healthy", func(t *testing.T) {
		t.Run("if every monitor is healthy", func(t *testing.T) {
			var a Binary
			a.MarkHealthy()

			healthy, err := And(&a, Alive).Healthy(context.Background())
			require.NoError(t, err)
			require.True(t, healthy)
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if at least one of the monitors fails", func(t *testing.T) {
			var a Binary
			a.MarkHealthy()

			healthErr := errors.New("failed to check health status")

			healthy, err := And(&a, unhealthy(healthErr), Alive).Healthy(context.Background())
			require.ErrorIs(t, err, healthErr)
			require.False(t, healthy)
		})
	})
}

func TestOrMonitor_Healthy(t *testing.T) {
	t.Run("will return unhealthy", func(t *testing.T) {
		t.Run("if every monitor is unhealthy", func(t *testing.T) {
			var a, b Binary

			healthy, err := Or(&a, &b).Healthy(context.Background())
			require.NoError(t, err)
			require.False(t, healthy)
		})
	})

	t.Run("will return healthy", func(t *testing.T) {
		t.Run("even if another monitor fails", func(t *testing.T) {
			healthy, err := Or(unhealthy(errors.New("unreachable")), Alive).Healthy(context.Background())
			require.NoError(t, err)
			require.True(t, healthy)
		})
	})

	t.Run("will join every error", func(t *testing.T) {
		err1 := errors.New("error 1")
		err2 := errors.New("error 2")

		healthy, err := Or(unhealthy(err1), unhealthy(err2)).Healthy(context.Background())
		require.ErrorIs(t, err, err1)
		require.ErrorIs(t, err, err2)
		require.False(t, healthy)
	})
}

func TestHandler(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	testCases := []struct {
		Name    string
		Monitor Monitor
		Status  int
	}{
		{
			Name:    "will respond with 200 if the monitor is healthy",
			Monitor: Alive,
			Status:  http.StatusOK,
		},
		{
			Name:    "will respond with 503 if the monitor is unhealthy",
			Monitor: &Binary{},
			Status:  http.StatusServiceUnavailable,
		},
		{
			Name:    "will respond with 503 if the monitor fails",
			Monitor: unhealthy(errors.New("boom")),
			Status:  http.StatusServiceUnavailable,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/health/readiness", nil)

			Handler(log, testCase.Monitor).ServeHTTP(w, r)

			require.Equal(t, testCase.Status, w.Code)
		})
	}
}
