package middleware

import (
	"github.com/labstack/echo/v4"

	"edge-gateway/internal/header"
)

// StripHopByHop returns an Echo middleware that removes hop-by-hop headers
// from the incoming request before any handler sees it.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header.DropHopByHop(c.Request().Header)
			return next(c)
		}
	}
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// responses the gateway produces itself. Proxied responses are relayed as
// the backend sent them, so this is attached per route, not globally.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
