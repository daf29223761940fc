package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"hostit-tunnel/internal/connutil"
)

// LocalConnection is a TCP or TLS socket to the local service. Lifecycle:
// dialing -> connected -> paired -> closed. Owned 1:1 by the
// RemoteConnection it is bridged to.
type LocalConnection struct {
	conn net.Conn
}

// Conn returns the underlying net.Conn for bridging.
func (c *LocalConnection) Conn() net.Conn { return c.conn }

// Close tears down the local socket.
func (c *LocalConnection) Close() error { return c.conn.Close() }

// LocalDialer opens connections to the local backend service.
type LocalDialer struct {
	cfg Config
}

// NewLocalDialer constructs a LocalDialer from cfg.
func NewLocalDialer(cfg Config) *LocalDialer {
	return &LocalDialer{cfg: cfg}
}

// Dial opens a TCP connection, or a TLS connection when
// cfg.SecureLocalConnection is set, to the configured local address. Both
// paths disable certificate verification: the local backend is not expected
// to present a publicly trusted certificate.
func (d *LocalDialer) Dial(ctx context.Context) (*LocalConnection, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", d.cfg.LocalAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalDial, err)
	}
	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		_ = connutil.EnableAllTCPOptimizations(tcpConn)
	}

	if !d.cfg.SecureLocalConnection {
		return &LocalConnection{conn: rawConn}, nil
	}

	tlsConn := tls.Client(rawConn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("%w: tls handshake: %w", ErrLocalDial, err)
	}
	return &LocalConnection{conn: tlsConn}, nil
}
