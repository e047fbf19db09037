// File: internal/network/httpclient.go
package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// Constants for default decoy connection settings.
const (
	DefaultDialTimeout         = 5 * time.Second
	DefaultKeepAliveInterval   = 15 * time.Second
	DefaultTLSHandshakeTimeout = 5 * time.Second
	DefaultRequestTimeout      = 10 * time.Second
)

// ClientConfig holds the configuration for parroting HTTP clients.
type ClientConfig struct {
	// Security settings
	IgnoreTLSErrors bool

	// Timeout settings
	RequestTimeout      time.Duration
	TLSHandshakeTimeout time.Duration

	// Dialer configuration (TCP layer)
	DialerConfig *DialerConfig

	// DisableHTTP2 keeps decoys on HTTP/1.1 even when the server offers h2.
	DisableHTTP2 bool

	Logger *zap.Logger
}

// NewDefaultClientConfig creates a configuration suited to short-lived decoy probes.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		DialerConfig:        NewDialerConfig(),
		RequestTimeout:      DefaultRequestTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		Logger:              zap.NewNop(),
	}
}

// HelloFor returns the TLS ClientHello a browser family sends, so a decoy's
// handshake agrees with the user agent it carries.
func HelloFor(b schemas.Browser) utls.ClientHelloID {
	switch b {
	case schemas.BrowserFirefox:
		return utls.HelloFirefox_120
	case schemas.BrowserSafari:
		return utls.HelloSafari_16_0
	default:
		// Edge shares Chrome's TLS stack.
		return utls.HelloChrome_120
	}
}

// parrotTransport is a one-shot RoundTripper: every request gets a fresh
// connection whose handshake parrots hello. Decoys never reuse connections.
type parrotTransport struct {
	cfg   *ClientConfig
	hello utls.ClientHelloID
}

// NewClient returns an http.Client whose TLS fingerprint matches browser.
func NewClient(cfg *ClientConfig, browser schemas.Browser) *http.Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DialerConfig == nil {
		cfg.DialerConfig = NewDialerConfig()
	}
	return &http.Client{
		Transport: &parrotTransport{cfg: cfg, hello: HelloFor(browser)},
		Timeout:   cfg.RequestTimeout,
		// Decoys look at the first response only.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// RoundTrip implements http.RoundTripper.
func (t *parrotTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, fmt.Errorf("parrot transport only speaks https, got %q", req.URL.Scheme)
	}

	ctx := req.Context()
	conn, err := t.dialTLS(ctx, hostPort(req.URL.Host))
	if err != nil {
		return nil, err
	}

	if conn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS && !t.cfg.DisableHTTP2 {
		return t.roundTripH2(conn, req)
	}
	return t.roundTripH1(conn, req)
}

func (t *parrotTransport) dialTLS(ctx context.Context, addr string) (*utls.UConn, error) {
	tcpConn, err := DialTCPContext(ctx, "tcp", addr, t.cfg.DialerConfig)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	uConn := utls.UClient(tcpConn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.cfg.IgnoreTLSErrors,
	}, t.hello)

	hsCtx := ctx
	if t.cfg.TLSHandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, t.cfg.TLSHandshakeTimeout)
		defer cancel()
	}
	if err := uConn.HandshakeContext(hsCtx); err != nil {
		_ = tcpConn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return uConn, nil
}

func (t *parrotTransport) roundTripH2(conn net.Conn, req *http.Request) (*http.Response, error) {
	h2 := &http2.Transport{}
	cc, err := h2.NewClientConn(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("h2 client setup: %w", err)
	}
	resp, err := cc.RoundTrip(req)
	if err != nil {
		_ = cc.Close()
		return nil, err
	}
	resp.Body = &closingBody{ReadCloser: resp.Body, closers: []io.Closer{cc, conn}}
	return resp, nil
}

func (t *parrotTransport) roundTripH1(conn net.Conn, req *http.Request) (*http.Response, error) {
	if deadline, ok := req.Context().Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write request: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp.Body = &closingBody{ReadCloser: resp.Body, closers: []io.Closer{conn}}
	return resp, nil
}

// closingBody tears down the one-shot connection once the body is closed.
type closingBody struct {
	io.ReadCloser
	closers []io.Closer
}

func (b *closingBody) Close() error {
	err := b.ReadCloser.Close()
	// Later closers usually report "use of closed connection"; only the body error matters.
	for _, c := range b.closers {
		_ = c.Close()
	}
	return err
}

func hostPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "443")
}
