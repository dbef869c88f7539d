package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edge-gateway/internal/config"
	"edge-gateway/internal/metrics"
	"edge-gateway/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics parameter may be nil when metrics are disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, gateway *GatewayHandler, health *HealthHandler, m *metrics.Metrics) {
	security := middleware.SecurityHeaders()

	e.GET("/healthz", health.Healthz, security)
	e.GET("/status", health.Status, security)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), security)
	}

	mount := cfg.Gateway.MountPath
	e.Any(mount+"/*", gateway.Handle)
	if mount != "" {
		e.Any(mount, gateway.Handle)
	}
}
