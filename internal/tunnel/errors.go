package tunnel

import (
	"errors"
	"net"
	"syscall"
)

// Sentinel error kinds, matching the agent's error taxonomy.
var (
	// ErrConfigInvalid is a construction-time validation failure. Fatal; no
	// tunnel is created.
	ErrConfigInvalid = errors.New("tunnel: invalid configuration")

	// ErrRemoteDial covers TLS connect failure, challenge parse failure, or
	// response write failure against the remote. Triggers pool removal and
	// the error-driven reconnection policy.
	ErrRemoteDial = errors.New("tunnel: remote dial failed")

	// ErrLocalDial covers the local service being unreachable at dial time.
	ErrLocalDial = errors.New("tunnel: local dial failed")

	// ErrLocalIO covers a mid-stream error on the local side of a bridge.
	ErrLocalIO = errors.New("tunnel: local connection error")

	// ErrStatus covers a non-200 response, or a JSON parse failure of the
	// response body, from the status endpoint.
	ErrStatus = errors.New("tunnel: status request failed")

	// ErrClosed is returned by operations attempted after Close has started.
	ErrClosed = errors.New("tunnel: supervisor closed")
)

// IsConnRefused reports whether err is, or wraps, ECONNREFUSED.
func IsConnRefused(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		err = opErr.Err
	}
	var sysErr *syscall.Errno
	if errors.As(err, &sysErr) {
		return *sysErr == syscall.ECONNREFUSED
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
