package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"edge-gateway/internal/config"
	"edge-gateway/internal/metrics"
	"edge-gateway/internal/route"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. The service label is bounded by the route table.
func MetricsMiddleware(m *metrics.Metrics, cfg *config.Config, routes *route.Store) echo.MiddlewareFunc {
	known := func(name string) bool {
		_, ok := routes.Current().Lookup(name)
		return ok
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// When a handler returns an *echo.HTTPError the status has not been
			// written yet; Echo's central error handler does that later.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			label := metrics.NormalizePath(c.Request().URL.Path, cfg.Gateway.MountPath, cfg.Metrics.Path, known)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, label).Inc()
			m.RequestDuration.WithLabelValues(method, status, label).Observe(duration)

			return err
		}
	}
}
