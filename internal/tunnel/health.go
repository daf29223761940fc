package tunnel

import (
	"net"
	"sync"
	"time"

	"hostit-tunnel/internal/connutil"
)

// HealthStatus is a point-in-time observational snapshot of a Supervisor.
// It never feeds back into the shouldReconnect decision spec.md §4.7
// mandates; it exists purely so an embedding CLI or /health endpoint has
// something to report.
type HealthStatus struct {
	PoolSize          int
	MaxConnections    int
	LastConnectedAt   time.Time
	LastDisconnectAt  time.Time
	LastError         string
	ReconnectAttempts uint64
	Closing           bool

	// AliveConnections is the number of pooled connections that answered a
	// one-byte MSG_PEEK liveness check at snapshot time. It is advisory
	// only: a connection reported dead here is still removed from the pool
	// the ordinary way, by its own bridge goroutine observing the error.
	AliveConnections int

	// AvgRTTMicros is the mean TCP round-trip estimate, in microseconds,
	// across pooled connections that exposed one (Linux only; 0 elsewhere
	// or when the pool is empty).
	AvgRTTMicros float64
}

// connectionHealth reports liveness and RTT for the pool's current
// membership using a single short-lived Validator. It never removes a
// connection itself; the Supervisor's own bridge goroutines already own
// that via the error-driven reconnection policy.
func connectionHealth(conns []*RemoteConnection) (alive int, avgRTTMicros float64) {
	if len(conns) == 0 {
		return 0, 0
	}
	validator := connutil.NewValidator(200 * time.Millisecond)
	var rttSum float64
	var rttCount int
	for _, c := range conns {
		nc := c.Conn()
		if validator.IsAlive(nc) {
			alive++
		}
		if tc := underlyingTCPConn(nc); tc != nil {
			if info, err := connutil.GetTCPInfo(tc); err == nil && info != nil {
				rttSum += float64(info.RTT)
				rttCount++
			}
		}
	}
	if rttCount > 0 {
		avgRTTMicros = rttSum / float64(rttCount)
	}
	return alive, avgRTTMicros
}

// underlyingTCPConn unwraps a dialed net.Conn down to its *net.TCPConn, the
// way RemoteDialer's connections are a *tls.Conn wrapping one. Returns nil
// (and GetTCPInfo then fails cheaply) for anything that isn't TCP-backed.
func underlyingTCPConn(conn net.Conn) *net.TCPConn {
	for {
		if tc, ok := conn.(*net.TCPConn); ok {
			return tc
		}
		unwrapper, ok := conn.(interface{ NetConn() net.Conn })
		if !ok {
			return nil
		}
		conn = unwrapper.NetConn()
	}
}

// healthTracker accumulates the fields HealthStatus reports. Guarded by its
// own mutex so it can be read from Health() without taking the Supervisor
// lock.
type healthTracker struct {
	mu                sync.RWMutex
	lastConnectedAt   time.Time
	lastDisconnectAt  time.Time
	lastError         string
	reconnectAttempts uint64
}

func (h *healthTracker) recordConnected() {
	h.mu.Lock()
	h.lastConnectedAt = time.Now()
	h.mu.Unlock()
}

func (h *healthTracker) recordDisconnected(err error) {
	h.mu.Lock()
	h.lastDisconnectAt = time.Now()
	if err != nil {
		h.lastError = err.Error()
	}
	h.mu.Unlock()
}

func (h *healthTracker) recordReconnectAttempt() {
	h.mu.Lock()
	h.reconnectAttempts++
	h.mu.Unlock()
}

func (h *healthTracker) snapshot() (time.Time, time.Time, string, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastConnectedAt, h.lastDisconnectAt, h.lastError, h.reconnectAttempts
}
