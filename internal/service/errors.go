package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"syscall"

	"edge-gateway/internal/client"
)

// Kind classifies a failure that left the gateway without a backend response.
type Kind int

const (
	// KindRouting: the path names no registered, configured service. No
	// connection was attempted.
	KindRouting Kind = iota + 1
	// KindConnect: DNS, TCP or TLS failure reaching the backend.
	KindConnect
	// KindTimeout: the per-request deadline expired before the backend answered.
	KindTimeout
	// KindProtocol: the backend sent something that is not a usable HTTP response.
	KindProtocol
	// KindCanceled: the caller went away before the backend answered.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindRouting:
		return "routing"
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a gateway-side failure. Backend error statuses are never reported
// as an Error; they are relayed like any other response.
type Error struct {
	Kind    Kind
	Service string
	Target  string
	Err     error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s error: service %q (%s): %v", e.Kind, e.Service, e.Target, e.Err)
	}
	return fmt.Sprintf("%s error: service %q: %v", e.Kind, e.Service, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps a round-trip failure onto a Kind. ctx is the per-request
// context carrying the deadline, parent is the caller's context.
func classify(ctx, parent context.Context, err error) Kind {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case parent.Err() != nil:
		return KindCanceled
	case isConnectError(err):
		return KindConnect
	default:
		return KindProtocol
	}
}

// isConnectError reports failures that never reached a usable connection.
// The client marks those by phase; the type checks below cover errors that
// carry no such mark.
func isConnectError(err error) bool {
	if errors.Is(err, client.ErrNoConnection) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	return errors.As(err, &recordErr)
}
