package tunnel

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"

	"hostit-tunnel/internal/connutil"
	"hostit-tunnel/internal/handshake"
	"hostit-tunnel/internal/tunlog"
)

// challengeBufSize bounds the single read used to receive the challenge
// blob. The remote is defined to send it as one write; anything requiring
// reassembly is treated as a protocol violation, not buffered across reads.
const challengeBufSize = 4096

// RemoteConnection is an authenticated TLS socket to the remote. Lifecycle:
// created -> awaiting-challenge -> authenticated -> paired-with-local ->
// closed. Owned by the Pool from authentication onward.
type RemoteConnection struct {
	conn net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// Conn returns the underlying net.Conn for bridging.
func (c *RemoteConnection) Conn() net.Conn { return c.conn }

// Done returns a channel closed when this connection has been torn down.
func (c *RemoteConnection) Done() <-chan struct{} { return c.closed }

// Close tears down the socket. Idempotent.
func (c *RemoteConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		close(c.closed)
	})
	return err
}

// RemoteDialer opens authenticated connections to the remote rendezvous
// server.
type RemoteDialer struct {
	cfg    Config
	logger *tunlog.Logger
}

// NewRemoteDialer constructs a RemoteDialer from cfg.
func NewRemoteDialer(cfg Config) *RemoteDialer {
	return &RemoteDialer{cfg: cfg, logger: cfg.Logger.WithCategory(tunlog.CatAuth)}
}

// Dial opens one TLS connection to the remote, performs the challenge/sign
// handshake, and returns an authenticated RemoteConnection. Certificate
// verification is disabled by protocol design (the remote self-signs); if
// cfg.TLSPinSHA256 is set, the leaf certificate's fingerprint is checked
// after the handshake and the dial fails if it doesn't match.
func (d *RemoteDialer) Dial(ctx context.Context) (*RemoteConnection, error) {
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", d.cfg.RemoteAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteDial, err)
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		_ = connutil.EnableAllTCPOptimizations(tcpConn)
	}

	tlsConn := tls.Client(rawConn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("%w: tls handshake: %w", ErrRemoteDial, err)
	}

	if d.cfg.TLSPinSHA256 != "" {
		if err := verifyPin(tlsConn, d.cfg.TLSPinSHA256); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("%w: %w", ErrRemoteDial, err)
		}
	}

	buf := make([]byte, challengeBufSize)
	n, err := tlsConn.Read(buf)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("%w: awaiting challenge: %w", ErrRemoteDial, err)
	}

	challenge, err := handshake.Parse(buf[:n])
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("%w: parse challenge: %v", ErrRemoteDial, err)
	}

	response, err := handshake.Sign(challenge, d.cfg.PrivateKey)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("%w: sign challenge: %v", ErrRemoteDial, err)
	}

	if _, err := tlsConn.Write(response); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("%w: write response: %v", ErrRemoteDial, err)
	}

	d.logger.Debug(tunlog.CatAuth, "remote connection authenticated")
	return &RemoteConnection{conn: tlsConn, closed: make(chan struct{})}, nil
}

func verifyPin(conn *tls.Conn, pinHex string) error {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("no peer certificate presented")
	}
	sum := sha256.Sum256(state.PeerCertificates[0].Raw)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, pinHex) {
		return fmt.Errorf("certificate pin mismatch: got %s, want %s", got, pinHex)
	}
	return nil
}
