package network

import (
	"context"
	"net"
	"time"
)

// DialerConfig holds TCP-level dial settings shared by every decoy connection.
type DialerConfig struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	// ForceNoDelay sets TCP_NODELAY so small probes are not held back by Nagle.
	ForceNoDelay bool
}

// NewDialerConfig returns the default dialer settings.
func NewDialerConfig() *DialerConfig {
	return &DialerConfig{
		Timeout:      DefaultDialTimeout,
		KeepAlive:    DefaultKeepAliveInterval,
		ForceNoDelay: true,
	}
}

// DialTCPContext opens a TCP connection honouring ctx and cfg.
func DialTCPContext(ctx context.Context, network, addr string, cfg *DialerConfig) (net.Conn, error) {
	if cfg == nil {
		cfg = NewDialerConfig()
	}
	d := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: cfg.KeepAlive}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok && cfg.ForceNoDelay {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}
