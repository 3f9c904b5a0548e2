// Package transport provides the message-oriented connection the gateway
// client runs over, and classifies dial failures.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrClosed is returned by Read and Write once the connection is closed
// locally.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one open full-duplex message connection. Read must only be called
// from a single goroutine; Write and Close are safe for concurrent use.
type Conn interface {
	// Read blocks until the next message arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	// Write queues one message for sending.
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// TransportError is a connection-level failure.
type TransportError struct {
	URL        string
	StatusCode int // HTTP status of a rejected upgrade, if any
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connect %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CertError is a probable TLS certificate failure on a secure URL. The
// classification is a heuristic. HTTPSURL points at the same host over plain
// HTTPS so a user can inspect and trust the certificate in a browser.
type CertError struct {
	URL      string
	HTTPSURL string
	Err      error
}

func (e *CertError) Error() string {
	return fmt.Sprintf("TLS certificate not trusted for %s (open %s to review it): %v", e.URL, e.HTTPSURL, e.Err)
}

func (e *CertError) Unwrap() error { return e.Err }

// ClassifyDialError wraps a dial failure as *CertError when the URL is
// secure and the failure looks like a certificate or TLS-layer rejection,
// and as *TransportError otherwise. Already-classified errors pass through.
func ClassifyDialError(rawURL string, err error) error {
	if err == nil {
		return nil
	}
	var certErr *CertError
	var transErr *TransportError
	if errors.As(err, &certErr) || errors.As(err, &transErr) {
		return err
	}
	if isSecure(rawURL) && looksLikeCertFailure(err) {
		return &CertError{URL: rawURL, HTTPSURL: HTTPSFallbackURL(rawURL), Err: err}
	}
	return &TransportError{URL: rawURL, Err: err}
}

func isSecure(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "wss") || strings.EqualFold(u.Scheme, "https")
}

func looksLikeCertFailure(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		recordHdrErr tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr),
		errors.As(err, &recordHdrErr):
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "x509") ||
		strings.Contains(msg, "certificate") ||
		strings.Contains(msg, "tls:")
}

// HTTPSFallbackURL maps wss:// to https:// and ws:// to http://, keeping
// host, path and query.
func HTTPSFallbackURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	switch strings.ToLower(u.Scheme) {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	return u.String()
}
