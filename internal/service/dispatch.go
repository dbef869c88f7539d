// Package service implements the routing and forwarding logic of the gateway.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"edge-gateway/internal/client"
	"edge-gateway/internal/config"
	"edge-gateway/internal/header"
	"edge-gateway/internal/metrics"
	"edge-gateway/internal/model"
	"edge-gateway/internal/route"
)

// DispatchService resolves inbound requests to a backend and forwards them.
// It keeps no per-request state; the only shared data is the route table.
type DispatchService struct {
	client           *client.UpstreamClient
	routes           *route.Store
	logger           *slog.Logger
	metrics          *metrics.Metrics
	mount            string
	timeout          time.Duration
	forwardedHeaders bool
}

// NewDispatchService creates a DispatchService.
// The metrics parameter is optional; pass nil to disable error counting.
func NewDispatchService(c *client.UpstreamClient, routes *route.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *DispatchService {
	return &DispatchService{
		client:           c,
		routes:           routes,
		logger:           logger.With("component", "dispatch_service"),
		metrics:          m,
		mount:            cfg.Gateway.MountPath,
		timeout:          cfg.Upstream.Timeout(),
		forwardedHeaders: cfg.Gateway.ForwardedHeaders,
	}
}

// Forward resolves pr to a backend, forwards it once and returns the response.
// The caller is responsible for closing the response body; closing it also
// releases the per-request deadline.
//
// Any returned error is an *Error. A routing failure is reported before any
// connection is opened.
func (s *DispatchService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := s.resolve(pr.Path)
	if err != nil {
		s.countError(target.Route.Name, KindRouting)
		return nil, &Error{Kind: KindRouting, Service: target.Route.Name, Err: err}
	}

	out := &model.OutboundRequest{
		Service:       target.Route.Name,
		Method:        pr.Method,
		URL:           target.URL(pr.RawQuery),
		Host:          target.Route.BaseURL.Host,
		Header:        s.outboundHeader(pr),
		Body:          pr.Body,
		ContentLength: pr.ContentLength,
	}

	ctx, cancel := s.withDeadline(pr.Ctx, target.Route)

	s.logger.Debug("forwarding request",
		"service", out.Service,
		"method", out.Method,
		"target", target.Route.BaseURL.Redacted(),
	)

	resp, err := s.client.DoStream(ctx, out)
	if err != nil {
		kind := classify(ctx, pr.Ctx, err)
		cancel()
		s.countError(out.Service, kind)
		return nil, &Error{
			Kind:    kind,
			Service: out.Service,
			Target:  target.Route.BaseURL.Redacted(),
			Err:     err,
		}
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// resolve strips the mount path and looks the service up in the current table.
func (s *DispatchService) resolve(path string) (route.Target, error) {
	if s.mount != "" {
		if path != s.mount && !strings.HasPrefix(path, s.mount+"/") {
			return route.Target{}, fmt.Errorf("%w: path outside %s", route.ErrNoService, s.mount)
		}
		path = path[len(s.mount):]
	}
	return s.routes.Current().Resolve(path)
}

// withDeadline derives the per-request context. The deadline covers the whole
// exchange, including streaming the response body.
func (s *DispatchService) withDeadline(parent context.Context, r route.Route) (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if r.Timeout > 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// outboundHeader copies the inbound headers verbatim apart from hop-by-hop
// ones. Credentials pass through untouched.
func (s *DispatchService) outboundHeader(pr *model.ProxyRequest) http.Header {
	h := pr.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	header.DropHopByHop(h)

	// An absent User-Agent must stay absent rather than become Go's default.
	if _, ok := h["User-Agent"]; !ok {
		h.Set("User-Agent", "")
	}

	if pr.RequestID != "" && h.Get("X-Request-Id") == "" {
		h.Set("X-Request-Id", pr.RequestID)
	}

	if s.forwardedHeaders {
		if ip, _, err := net.SplitHostPort(pr.RemoteAddr); err == nil && ip != "" {
			if prior := h.Get("X-Forwarded-For"); prior != "" {
				h.Set("X-Forwarded-For", prior+", "+ip)
			} else {
				h.Set("X-Forwarded-For", ip)
			}
		}
		if pr.TLS {
			h.Set("X-Forwarded-Proto", "https")
		} else {
			h.Set("X-Forwarded-Proto", "http")
		}
		if pr.Host != "" {
			h.Set("X-Forwarded-Host", pr.Host)
		}
	}
	return h
}

func (s *DispatchService) countError(service string, kind Kind) {
	if s.metrics == nil {
		return
	}
	if _, ok := s.routes.Current().Lookup(service); !ok {
		service = "other"
	}
	s.metrics.UpstreamErrors.WithLabelValues(service, kind.String()).Inc()
}

// cancelOnClose releases the request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
