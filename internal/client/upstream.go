// Package client provides the outbound HTTP client used to reach backends.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync/atomic"
	"time"

	"edge-gateway/internal/config"
	"edge-gateway/internal/metrics"
	"edge-gateway/internal/model"
)

// ErrNoConnection marks a round-trip failure that happened before a usable
// connection existed: DNS, dial, proxy CONNECT or TLS handshake.
var ErrNoConnection = errors.New("no upstream connection established")

// UpstreamClient sends forwarded requests to backend services.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The client itself has no overall timeout: deadlines are carried by the
// request context so that streamed bodies are bounded per request.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Upstream.DialTimeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Relay bodies exactly as the backend encoded them.
		DisableCompression: true,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects belong to the caller.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against a backend and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(service string, req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"service", service,
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(service, method).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(service, method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Trailer:    resp.Trailer,
		Body:       resp.Body,
		Service:    service,
		Target:     req.URL.Redacted(),
	}, nil
}

// DoStream executes one forwarding attempt and returns the response body as a stream.
// The caller is responsible for closing the returned body.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (client disconnect or deadline), the upstream
// connection is torn down.
func (c *UpstreamClient) DoStream(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error) {
	body := out.Body
	if out.ContentLength == 0 {
		body = nil
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if out.Host != "" {
		req.Host = out.Host
	}
	if body != nil {
		req.ContentLength = out.ContentLength
	}

	// GotConn fires only once dialing and the TLS handshake have succeeded.
	var connected atomic.Bool
	req = req.WithContext(httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	}))

	resp, err := c.Do(out.Service, req)
	if err != nil && !connected.Load() {
		return nil, fmt.Errorf("%w: %w", ErrNoConnection, err)
	}
	return resp, err
}
