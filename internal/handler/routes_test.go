package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"edge-gateway/internal/client"
	"edge-gateway/internal/config"
	"edge-gateway/internal/metrics"
	"edge-gateway/internal/middleware"
	"edge-gateway/internal/route"
	"edge-gateway/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:     10,
			DialTimeoutSeconds: 2,
			IdleConnections:    10,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func mustRoute(t *testing.T, name, base string) route.Route {
	t.Helper()
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("parse %q: %v", base, err)
	}
	return route.Route{Name: name, EnvKey: "TEST_URL", BaseURL: u}
}

// newTestEcho assembles the middleware chain and routes the way the binary does.
func newTestEcho(t *testing.T, cfg *config.Config, routes ...route.Route) *echo.Echo {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	store := route.NewStore(route.NewTable(routes))

	uc := client.NewUpstreamClient(cfg, logger, m)
	svc := service.NewDispatchService(uc, store, cfg, logger, m)

	e := echo.New()
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.StripHopByHop())
	e.Use(middleware.MetricsMiddleware(m, cfg, store))

	RegisterRoutes(e, cfg, NewGatewayHandler(svc, logger), NewHealthHandler(cfg, store, "test"), m)
	return e
}

// newTestGateway serves newTestEcho over a real listener.
func newTestGateway(t *testing.T, cfg *config.Config, routes ...route.Route) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newTestEcho(t, cfg, routes...))
	t.Cleanup(srv.Close)
	return srv
}

// noRedirectClient relays 3xx responses to the test instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func get(t *testing.T, ctx context.Context, c *http.Client, target string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	return resp
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	e := newTestEcho(t, testConfig(), mustRoute(t, "order-service", backend.URL))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /status", http.MethodGet, "/status", http.StatusOK},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"GET service path", http.MethodGet, "/order-service/all", http.StatusOK},
		{"POST service path", http.MethodPost, "/order-service/create", http.StatusOK},
		{"DELETE service path", http.MethodDelete, "/order-service/7", http.StatusOK},
		{"GET bare prefix", http.MethodGet, "/order-service", http.StatusOK},
		{"unknown service", http.MethodGet, "/unknown/x", http.StatusNotFound},
		{"root", http.MethodGet, "/", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_MountPath(t *testing.T) {
	paths := make(chan string, 4)
	backend := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
	}))
	defer backend.Close()

	cfg := testConfig()
	cfg.Gateway.MountPath = "/gateway"
	e := newTestEcho(t, cfg, mustRoute(t, "order-service", backend.URL))

	tests := []struct {
		path       string
		wantStatus int
		wantPath   string
	}{
		{"/gateway/order-service/all", http.StatusOK, "/all"},
		{"/order-service/all", http.StatusNotFound, ""},
		{"/gateway", http.StatusNotFound, ""},
		{"/healthz", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantPath != "" {
				if got := <-paths; got != tt.wantPath {
					t.Errorf("backend path = %q, want %q", got, tt.wantPath)
				}
			}
		})
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	e := newTestEcho(t, cfg)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegisterRoutes_SecurityHeadersOnlyOnOwnEndpoints(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	}))
	defer backend.Close()

	e := newTestEcho(t, testConfig(), mustRoute(t, "order-service", backend.URL))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if v := rec.Header().Get("X-Frame-Options"); v != "DENY" {
		t.Errorf("healthz X-Frame-Options = %q, want %q", v, "DENY")
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/order-service/x", http.NoBody))
	if v := rec.Header().Get("X-Frame-Options"); v != "SAMEORIGIN" {
		t.Errorf("proxied X-Frame-Options = %q, want backend value %q", v, "SAMEORIGIN")
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
