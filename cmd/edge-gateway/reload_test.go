package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"edge-gateway/internal/config"
)

func writeRoutes(t *testing.T, path, url string) {
	t.Helper()
	data := `
[[routes]]
name = "order-service"
url = "` + url + `"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestReloadRoutes_SwapsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeRoutes(t, path, "http://orders-v1.internal")

	cli := &config.CLI{Config: path}
	cfg, err := config.Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	store, err := newRouteStore(cfg)
	if err != nil {
		t.Fatalf("newRouteStore() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	writeRoutes(t, path, "http://orders-v2.internal")
	reloadRoutes(cli, store, logger)

	r, ok := store.Current().Lookup("order-service")
	if !ok {
		t.Fatal("order-service missing after reload")
	}
	if r.BaseURL.Host != "orders-v2.internal" {
		t.Errorf("host = %q, want %q", r.BaseURL.Host, "orders-v2.internal")
	}
}

func TestReloadRoutes_KeepsTableOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeRoutes(t, path, "http://orders-v1.internal")

	cli := &config.CLI{Config: path}
	cfg, err := config.Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	store, err := newRouteStore(cfg)
	if err != nil {
		t.Fatalf("newRouteStore() error = %v", err)
	}
	before := store.Current()

	writeRoutes(t, path, "ftp://not-http")
	reloadRoutes(cli, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if store.Current() != before {
		t.Error("route table replaced by an invalid config")
	}
}

func TestNewRouteStore_UnconfiguredAllowed(t *testing.T) {
	cfg := &config.Config{Routes: []config.RouteConfig{{Name: "order-service", URLEnv: "ORDER_SERVICE_URL"}}}
	store, err := newRouteStore(cfg)
	if err != nil {
		t.Fatalf("newRouteStore() error = %v", err)
	}
	r, _ := store.Current().Lookup("order-service")
	if r.Configured() {
		t.Error("route without ResolvedURL should be unconfigured")
	}
}

func TestLogConfigSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeRoutes(t, path, "http://orders.internal")

	cfg, err := config.Load(&config.CLI{Config: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	logConfigSource(cfg, slog.New(slog.NewTextHandler(&buf, nil)))
	if !strings.Contains(buf.String(), "path="+path) {
		t.Errorf("log output missing config path: %s", buf.String())
	}

	buf.Reset()
	logConfigSource(&config.Config{}, slog.New(slog.NewTextHandler(&buf, nil)))
	if !strings.Contains(buf.String(), "built-in defaults") {
		t.Errorf("log output missing defaults notice: %s", buf.String())
	}
}
