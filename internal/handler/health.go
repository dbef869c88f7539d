package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"edge-gateway/internal/config"
	"edge-gateway/internal/route"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	routes  *route.Store
	version Version
}

type routeStatus struct {
	Name       string `json:"name"`
	Env        string `json:"env,omitempty"`
	Configured bool   `json:"configured"`
}

type statusResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	MountPath string        `json:"mount_path"`
	Routes    []routeStatus `json:"routes"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, routes *route.Store, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, routes: routes, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version and the route table in effect.
// Base addresses are not exposed, only whether each route has one.
func (h *HealthHandler) Status(c echo.Context) error {
	table := h.routes.Current()

	resp := statusResponse{
		Status:    "ok",
		Version:   string(h.version),
		MountPath: h.cfg.Gateway.MountPath,
		Routes:    make([]routeStatus, 0, len(table.Names())),
	}
	for _, name := range table.Names() {
		r, _ := table.Lookup(name)
		resp.Routes = append(resp.Routes, routeStatus{
			Name:       r.Name,
			Env:        r.EnvKey,
			Configured: r.Configured(),
		})
		if !r.Configured() {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}
