package tunnel

import (
	"fmt"
	"net"
	"time"

	"hostit-tunnel/internal/identity"
	"hostit-tunnel/internal/tunlog"
)

// Transform maps a chunk of bridge bytes to another chunk, applied on the
// remote-to-local direction after any HostHeaderRewriter pass. The identity
// transform (returning chunk unchanged) is the default.
type Transform func(chunk []byte) []byte

func identityTransform(chunk []byte) []byte { return chunk }

// Config is the immutable-after-construction configuration for a Tunnel.
type Config struct {
	LocalAddress  string
	LocalPort     int
	RemoteAddress string
	RemotePort    int

	// MaxConnections is the steady-state pool size. Defaults to 24.
	MaxConnections int

	// PrivateKey is the 32-byte secp256k1 scalar identifying this tunnel.
	// A random key is generated if left nil.
	PrivateKey []byte

	// SecureLocalConnection dials the local service over TLS instead of
	// plain TCP when true.
	SecureLocalConnection bool

	// DisableAutoReconnect turns off the error-driven reconnection policy.
	// The heartbeat close+reopen cycle and the replacement after a bridge
	// ends run either way. Left unset (false), autoReconnect defaults to
	// true per spec.md §3 — the zero value of Config must reconnect, so the
	// field is phrased as an opt-out rather than an opt-in bool.
	DisableAutoReconnect bool

	// AutoReconnectInterval is the heartbeat period and the error-driven
	// reconnect delay. Defaults to 30s.
	AutoReconnectInterval time.Duration

	// Transform maps bytes flowing from remote to local, after any
	// HostHeaderRewriter pass. Defaults to the identity mapping.
	Transform Transform

	// Logger receives structured events. A no-op logger is substituted
	// when left nil.
	Logger *tunlog.Logger

	// TLSPinSHA256 optionally pins the remote's leaf certificate by
	// SHA-256(der) hex. Verification otherwise stays disabled: the remote
	// is defined to self-sign, by protocol design.
	TLSPinSHA256 string
}

// WithDefaults returns a copy of c with every zero-valued optional field
// filled in, matching the defaults §3 of the data model specifies.
func (c Config) WithDefaults() (Config, error) {
	out := c
	if out.MaxConnections == 0 {
		out.MaxConnections = 24
	}
	if out.PrivateKey == nil {
		key, err := identity.GenerateKey()
		if err != nil {
			return Config{}, fmt.Errorf("tunnel: generate private key: %w", err)
		}
		out.PrivateKey = key
	}
	if out.AutoReconnectInterval == 0 {
		out.AutoReconnectInterval = 30 * time.Second
	}
	if out.Transform == nil {
		out.Transform = identityTransform
	}
	if out.Logger == nil {
		out.Logger = tunlog.Noop()
	}
	return out, nil
}

// Validate enforces the data-model invariants from §3: address/port fields
// present and well-typed, maxConnections >= 1, privateKey exactly 32 bytes.
func (c Config) Validate() error {
	if c.LocalAddress == "" {
		return fmt.Errorf("%w: localAddress is required", ErrConfigInvalid)
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return fmt.Errorf("%w: localPort must be in 1..65535, got %d", ErrConfigInvalid, c.LocalPort)
	}
	if c.RemoteAddress == "" {
		return fmt.Errorf("%w: remoteAddress is required", ErrConfigInvalid)
	}
	if c.RemotePort < 1 || c.RemotePort > 65535 {
		return fmt.Errorf("%w: remotePort must be in 1..65535, got %d", ErrConfigInvalid, c.RemotePort)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("%w: maxConnections must be >= 1, got %d", ErrConfigInvalid, c.MaxConnections)
	}
	if len(c.PrivateKey) != 32 {
		return fmt.Errorf("%w: privateKey must be exactly 32 bytes, got %d", ErrConfigInvalid, len(c.PrivateKey))
	}
	return nil
}

// AutoReconnect reports whether the error-driven reconnection policy is
// active, per spec.md §3's autoReconnect=true default. The heartbeat does
// not consult it.
func (c Config) AutoReconnect() bool { return !c.DisableAutoReconnect }

// LocalAddr returns the host:port of the local service.
func (c Config) LocalAddr() string {
	return net.JoinHostPort(c.LocalAddress, fmt.Sprint(c.LocalPort))
}

// RemoteAddr returns the host:port of the remote rendezvous server.
func (c Config) RemoteAddr() string {
	return net.JoinHostPort(c.RemoteAddress, fmt.Sprint(c.RemotePort))
}
