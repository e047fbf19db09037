// Package network implements the decoy transport: TLS-parroting HEAD probes,
// chaff DNS lookups and padding delays.
package network

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// Resolver is the subset of net.Resolver used for DNS chaff.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DecoyTransport emits decoy events onto the real network.
type DecoyTransport struct {
	cfg      *ClientConfig
	resolver Resolver
	language string
	logger   *zap.Logger
	// clientFor is swapped in tests to avoid real handshakes.
	clientFor func(schemas.Browser) *http.Client
	// scheme is "https" outside tests.
	scheme string
}

// NewDecoyTransport builds a transport. A nil resolver uses net.DefaultResolver.
func NewDecoyTransport(cfg *ClientConfig, resolver Resolver, logger *zap.Logger) *DecoyTransport {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	t := &DecoyTransport{
		cfg:      cfg,
		resolver: resolver,
		language: "en-US,en;q=0.9",
		logger:   logger.Named("decoy"),
		scheme:   "https",
	}
	t.clientFor = func(b schemas.Browser) *http.Client { return NewClient(t.cfg, b) }
	return t
}

// Emit implements schemas.DecoyTransport. Failures come back as *schemas.TransportError.
func (t *DecoyTransport) Emit(ctx context.Context, ev schemas.TelemetryEvent) error {
	var err error
	switch ev.Method {
	case schemas.MethodHeadProbe:
		err = t.headProbe(ctx, ev)
	case schemas.MethodDNSLookup:
		err = t.lookup(ctx, ev)
	case schemas.MethodPaddingDelay:
		err = hesitate(ctx, ev.Padding)
	default:
		err = errors.New("unknown decoy method")
	}
	if err != nil {
		return &schemas.TransportError{Method: ev.Method, Target: ev.Target, Err: err}
	}
	return nil
}

func (t *DecoyTransport) headProbe(ctx context.Context, ev schemas.TelemetryEvent) error {
	if ev.Target == "" {
		return errors.New("head probe without target")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.scheme+"://"+ev.Target+"/", nil)
	if err != nil {
		return err
	}
	if ev.UserAgent != "" {
		req.Header.Set("User-Agent", ev.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", t.language)

	resp, err := t.clientFor(ev.Browser).Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	t.logger.Debug("Head probe answered", zap.String("target", ev.Target), zap.Int("status", resp.StatusCode))
	return nil
}

func (t *DecoyTransport) lookup(ctx context.Context, ev schemas.TelemetryEvent) error {
	if ev.Target == "" {
		return errors.New("dns lookup without target")
	}
	addrs, err := t.resolver.LookupHost(ctx, ev.Target)
	if err != nil {
		return err
	}
	t.logger.Debug("Chaff lookup resolved", zap.String("target", ev.Target), zap.Int("addresses", len(addrs)))
	return nil
}

// hesitate pauses execution, respecting the context cancellation.
func hesitate(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
