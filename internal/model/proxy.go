// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound client request to be routed.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string // escaped, as received
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	Host          string
	RemoteAddr    string
	TLS           bool
	RequestID     string
}

// OutboundRequest is a single forwarding attempt to a backend.
type OutboundRequest struct {
	Service       string
	Method        string
	URL           string
	Host          string // backend authority sent as the Host header
	Header        http.Header
	Body          io.Reader
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Trailer    http.Header // populated once Body has been read to EOF
	Body       io.ReadCloser
	Service    string
	Target     string
}
