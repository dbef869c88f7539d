package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	m.RequestsTotal.WithLabelValues("GET", "200", "order-service").Inc()
	m.UpstreamErrors.WithLabelValues("order-service", "timeout").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"edge_gateway_http_requests_total":   false,
		"edge_gateway_upstream_errors_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := NormalizeMethod(tt.method); got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	known := func(name string) bool {
		return name == "order-service" || name == "user-service"
	}

	tests := []struct {
		name  string
		path  string
		mount string
		want  string
	}{
		{"service deep path", "/order-service/process/42", "", "order-service"},
		{"service bare", "/user-service", "", "user-service"},
		{"unknown service", "/inventory/all", "", "other"},
		{"prefix boundary", "/order-service-old/x", "", "other"},
		{"healthz", "/healthz", "", "/healthz"},
		{"status", "/status", "", "/status"},
		{"metrics", "/metrics", "", "/metrics"},
		{"root", "/", "", "other"},
		{"mounted service", "/gateway/order-service/all", "/gateway", "order-service"},
		{"outside mount", "/order-service/all", "/gateway", "other"},
		{"mount lookalike", "/gatewayx/order-service", "/gateway", "other"},
		{"mount only", "/gateway", "/gateway", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.path, tt.mount, "/metrics", known); got != tt.want {
				t.Errorf("NormalizePath(%q, %q) = %q, want %q", tt.path, tt.mount, got, tt.want)
			}
		})
	}
}
