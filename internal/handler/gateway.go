package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"edge-gateway/internal/header"
	"edge-gateway/internal/middleware"
	"edge-gateway/internal/model"
	"edge-gateway/internal/route"
	"edge-gateway/internal/service"
)

// credentialPattern matches credential-looking query parameters in URLs embedded in error messages.
var credentialPattern = regexp.MustCompile(`(?i)((?:access_token|token|api_?key|password|secret)=)[^&\s"]+`)

// GatewayHandler relays requests to the backend chosen by the dispatch service.
type GatewayHandler struct {
	service *service.DispatchService
	logger  *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(svc *service.DispatchService, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: svc,
		logger:  logger.With("component", "gateway_handler"),
	}
}

// Handle forwards the request and streams the backend response back as it arrives.
func (h *GatewayHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		Host:          req.Host,
		RemoteAddr:    req.RemoteAddr,
		TLS:           req.TLS != nil,
		RequestID:     c.Response().Header().Get(echo.HeaderXRequestID),
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.Set(middleware.ServiceKey, resp.Service)

	res := c.Response()
	header.DropHopByHop(resp.Header)
	for key, vals := range resp.Header {
		res.Header()[key] = vals
	}

	// Trailer values arrive after the body; announce the keys now.
	trailers := trailerKeys(resp.Trailer)
	if len(trailers) > 0 {
		res.Header().Set("Trailer", strings.Join(trailers, ", "))
	}

	res.WriteHeader(resp.StatusCode)
	_ = http.NewResponseController(res.Writer).Flush()

	// Once the status line is out a failure can only truncate the body; the
	// client sees the backend's status with a short body.
	if _, err := io.Copy(flushWriter{res}, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"service", resp.Service,
			"path", req.URL.Path,
		)
		return nil
	}

	for _, k := range trailers {
		res.Header()[k] = resp.Trailer[k]
	}
	return nil
}

// trailerKeys returns the announced trailer names that may be relayed, sorted.
func trailerKeys(t http.Header) []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		if !header.IsHopByHop(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (h *GatewayHandler) mapError(c echo.Context, err error) error {
	var gwErr *service.Error
	if !errors.As(err, &gwErr) {
		h.logger.Error("proxy error", "err", sanitizeError(err), "path", c.Request().URL.Path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream request failed",
		})
	}

	if gwErr.Service != "" {
		c.Set(middleware.ServiceKey, gwErr.Service)
	}

	status, msg := statusFor(gwErr)

	level := slog.LevelError
	switch gwErr.Kind {
	case service.KindRouting:
		level = slog.LevelWarn
	case service.KindCanceled:
		level = slog.LevelInfo
	}
	h.logger.Log(c.Request().Context(), level, "proxy error",
		"kind", gwErr.Kind.String(),
		"service", gwErr.Service,
		"target", gwErr.Target,
		"err", sanitizeError(gwErr.Err),
		"path", c.Request().URL.Path,
	)

	body := map[string]string{
		"error": msg,
		"kind":  gwErr.Kind.String(),
	}
	if gwErr.Service != "" {
		body["service"] = gwErr.Service
	}
	return c.JSON(status, body)
}

// statusFor maps a gateway failure to the response status and message.
func statusFor(e *service.Error) (int, string) {
	switch e.Kind {
	case service.KindRouting:
		if errors.Is(e.Err, route.ErrUnconfigured) {
			return http.StatusBadGateway, "bad gateway route: service has no configured address"
		}
		return http.StatusNotFound, "no route for service"
	case service.KindTimeout:
		return http.StatusGatewayTimeout, "upstream request timed out"
	case service.KindConnect:
		var dnsErr *net.DNSError
		if errors.As(e.Err, &dnsErr) {
			return http.StatusBadGateway, "upstream host unreachable"
		}
		return http.StatusBadGateway, "upstream connection failed"
	case service.KindProtocol:
		return http.StatusBadGateway, "upstream sent an invalid response"
	case service.KindCanceled:
		return http.StatusBadGateway, "client disconnected"
	default:
		return http.StatusBadGateway, "upstream request failed"
	}
}

// flushWriter pushes every chunk to the client as soon as it is written.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if n > 0 {
		_ = http.NewResponseController(w.res.Writer).Flush()
	}
	return n, err
}

// sanitizeError redacts credentials from error messages that may contain backend URLs.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return credentialPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
