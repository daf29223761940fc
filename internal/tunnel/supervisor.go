// Package tunnel implements the reverse-tunnel client: the connection pool,
// its per-connection handshake and bridging, and the supervisor that
// reacts to connection loss with bounded reconnection.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hostit-tunnel/internal/identity"
	"hostit-tunnel/internal/tunlog"
	"hostit-tunnel/internal/tunmetrics"
)

// Supervisor owns a Tunnel's Pool, orchestrates bulk connection opening,
// and schedules reconnection on error and on a periodic heartbeat. It is
// the single owner of pool membership and the pending-reconnect-timer
// handle: every mutation of either goes through Supervisor.mu, matching
// spec.md §5's "single owning task" requirement.
type Supervisor struct {
	cfg      Config
	identity *identity.Identity

	remoteDialer *RemoteDialer
	localDialer  *LocalDialer
	bridge       *Bridge
	status       *StatusClient
	metrics      *tunmetrics.Collector
	logger       *tunlog.Logger
	events       *Events
	health       *healthTracker

	// bridgeWG tracks every in-flight runBridge goroutine. Close waits on it
	// so onBridgeEnded for a connection it is tearing down always observes
	// s.closing == true before Close clears that flag again; otherwise a
	// bridge ending mid-teardown could race past Close and schedule a
	// spurious replacement.
	bridgeWG sync.WaitGroup

	mu             sync.Mutex
	pool           *Pool
	reconnectTimer *time.Timer
	closing        bool
	closed         bool
}

// NewSupervisor constructs a Supervisor from cfg, applying defaults and
// validating them. events and metrics may be nil.
func NewSupervisor(cfg Config, events *Events, metrics *tunmetrics.Collector) (*Supervisor, error) {
	cfg, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, err := identity.New(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	s := &Supervisor{
		cfg:          cfg,
		identity:     id,
		remoteDialer: NewRemoteDialer(cfg),
		localDialer:  NewLocalDialer(cfg),
		bridge:       NewBridge(cfg, metrics),
		status:       NewStatusClient(cfg.RemoteAddress, id.ID),
		metrics:      metrics,
		logger:       cfg.Logger.WithCategory(tunlog.CatSupervis),
		events:       events,
		health:       &healthTracker{},
		pool:         NewPool(cfg.MaxConnections),
	}
	return s, nil
}

// Identity returns the tunnel's derived identity.
func (s *Supervisor) Identity() *identity.Identity { return s.identity }

// PoolSize returns the current number of authenticated pool connections.
func (s *Supervisor) PoolSize() int { return s.pool.Size() }

// Health returns a point-in-time snapshot of connection health.
func (s *Supervisor) Health() HealthStatus {
	connectedAt, disconnectAt, lastErr, attempts := s.health.snapshot()
	s.mu.Lock()
	closing := s.closing
	conns := s.pool.Snapshot()
	s.mu.Unlock()
	alive, avgRTT := connectionHealth(conns)
	return HealthStatus{
		PoolSize:          len(conns),
		MaxConnections:    s.cfg.MaxConnections,
		LastConnectedAt:   connectedAt,
		LastDisconnectAt:  disconnectAt,
		LastError:         lastErr,
		ReconnectAttempts: attempts,
		Closing:           closing,
		AliveConnections:  alive,
		AvgRTTMicros:      avgRTT,
	}
}

// Open dials n replacement connections concurrently and waits for all of
// them to finish. n <= 0 means "fill the pool back up to MaxConnections".
// Any pending reconnect timer is canceled first. On success, the heartbeat
// is (re)scheduled. On the first dial failure, the error-driven
// reconnection policy runs and the first error is returned.
func (s *Supervisor) Open(ctx context.Context, n int) error {
	if s.metrics != nil {
		s.metrics.IncCounter(tunmetrics.MetricOpensTotal)
	}
	s.mu.Lock()
	if s.closing || s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.cancelReconnectTimerLocked()
	if n <= 0 {
		n = s.cfg.MaxConnections - s.pool.Size()
	}
	s.mu.Unlock()

	if n <= 0 {
		s.scheduleHeartbeat()
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := s.openOne(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		s.handleRemoteError(nil, firstErr)
		// handleRemoteError only arms a timer when the pool just emptied
		// out; a partial Open (some dials succeeded) leaves the pool
		// non-empty, so its shouldReconnect gate stays false and no timer
		// gets armed there. The heartbeat from spec.md §4.7/§9 still has
		// to run on that non-empty pool, so arm it here instead.
		s.mu.Lock()
		poolNonEmpty := s.pool.Size() > 0
		s.mu.Unlock()
		if poolNonEmpty {
			s.scheduleHeartbeat()
		}
		return firstErr
	}

	s.scheduleHeartbeat()
	return nil
}

// openOne dials one remote connection, pairs it with a freshly dialed local
// connection, and starts bridging in the background. It returns once the
// remote is authenticated and paired (or once either dial fails).
func (s *Supervisor) openOne(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.IncCounter(tunmetrics.MetricDialsTotal)
	}
	remote, err := s.remoteDialer.Dial(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncCounter(tunmetrics.MetricDialFailsTotal)
		}
		return err
	}

	s.mu.Lock()
	s.pool.Add(remote)
	poolSize := s.pool.Size()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetGauge(tunmetrics.MetricPoolSize, float64(poolSize))
	}
	s.health.recordConnected()
	s.events.open(remote)

	local, err := s.localDialer.Dial(ctx)
	if err != nil {
		s.logger.Warn(tunlog.CatPool, "local dial failed: "+err.Error())
		s.mu.Lock()
		s.pool.Remove(remote)
		s.mu.Unlock()
		remote.Close()
		return err
	}

	s.bridgeWG.Add(1)
	go s.runBridge(remote, local)
	return nil
}

// runBridge blocks the calling goroutine for the connection's lifetime,
// piping bytes, then reacts to how the bridge ended.
func (s *Supervisor) runBridge(remote *RemoteConnection, local *LocalConnection) {
	defer s.bridgeWG.Done()
	err := s.bridge.Run(remote, local, func() { s.events.connected(remote) })
	s.onBridgeEnded(remote, err)
}

// onBridgeEnded is invoked exactly once per pool connection, after its
// bridge has finished and both sockets are closed. A clean end (both
// directions reached EOF) or one rooted in the local connection (ErrLocalIO)
// triggers spec.md §4.5's steady-state replacement, open(1), unconditionally:
// the remote side of this connection was healthy, so there is nothing for
// the bounded/backoff policy to protect against. Only an error rooted in the
// remote connection runs the full error-driven reconnection policy from
// spec.md §4.7.
func (s *Supervisor) onBridgeEnded(remote *RemoteConnection, err error) {
	s.mu.Lock()
	s.pool.Remove(remote)
	poolSize := s.pool.Size()
	closing := s.closing
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetGauge(tunmetrics.MetricPoolSize, float64(poolSize))
	}

	if closing {
		return
	}

	if err != nil && !errors.Is(err, ErrLocalIO) {
		s.handleRemoteError(remote, err)
		return
	}

	if err != nil {
		s.logger.Warn(tunlog.CatBridge, "local connection error, replacing unconditionally: "+err.Error())
	}

	go func() {
		if openErr := s.Open(context.Background(), 1); openErr != nil && !errors.Is(openErr, ErrClosed) {
			s.logger.Warn(tunlog.CatPool, "replacement open failed: "+openErr.Error())
		}
	}()
}

// handleRemoteError implements the error-driven reconnection policy from
// spec.md §4.7. conn may be nil (a dial that never reached the pool).
func (s *Supervisor) handleRemoteError(conn *RemoteConnection, err error) {
	s.mu.Lock()
	s.pool.Remove(conn)
	poolSize := s.pool.Size()
	closing := s.closing
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if s.metrics != nil {
		s.metrics.SetGauge(tunmetrics.MetricPoolSize, float64(poolSize))
	}

	// A refused connection only becomes a disconnected event when the
	// refusal is remote-origin: spec.md §4.2/§7 define that event for the
	// RemoteDialer's ECONNREFUSED alone, not for a local backend refusing
	// the LocalDialer (ErrLocalDial), which §7 says causes no tunnel
	// state change at all.
	refused := IsConnRefused(err) && !errors.Is(err, ErrLocalDial)
	s.health.recordDisconnected(err)
	if refused {
		if s.metrics != nil {
			s.metrics.IncCounter(tunmetrics.MetricRefusedTotal)
		}
		s.events.disconnected(fmt.Errorf("Tunnel connection refused"))
	}
	s.logger.Warn(tunlog.CatPool, "remote connection error: "+err.Error())

	if closing || !s.cfg.AutoReconnect() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	shouldReconnect := s.pool.Size() == 0 && s.reconnectTimer == nil
	if !shouldReconnect {
		return
	}
	s.health.recordReconnectAttempt()
	if s.metrics != nil {
		s.metrics.IncCounter(tunmetrics.MetricReconnectsTotal)
	}
	s.reconnectTimer = time.AfterFunc(s.cfg.AutoReconnectInterval, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		if openErr := s.Open(context.Background(), 0); openErr != nil && !errors.Is(openErr, ErrClosed) {
			s.logger.Warn(tunlog.CatPool, "scheduled reopen failed: "+openErr.Error())
		}
	})
}

// scheduleHeartbeat arms the periodic close+reopen cycle described in
// spec.md §4.7 and §9 ("heartbeat reconnect"). Any previously pending timer
// is replaced; at most one heartbeat/reconnect timer is ever pending.
func (s *Supervisor) scheduleHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.closed {
		return
	}
	s.cancelReconnectTimerLocked()
	s.reconnectTimer = time.AfterFunc(s.cfg.AutoReconnectInterval, s.fireHeartbeat)
}

func (s *Supervisor) fireHeartbeat() {
	s.mu.Lock()
	s.reconnectTimer = nil
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return
	}
	if s.metrics != nil {
		s.metrics.IncCounter(tunmetrics.MetricReconnectsTotal)
	}
	if err := s.Close(context.Background()); err != nil {
		s.logger.Warn(tunlog.CatPool, "heartbeat close failed: "+err.Error())
	}
	if err := s.Open(context.Background(), 0); err != nil {
		s.logger.Warn(tunlog.CatPool, "heartbeat reopen failed: "+err.Error())
		return
	}
}

// Close removes every pooled connection's ability to trigger reconnection,
// gracefully ends every socket, and waits for the pool to empty. Close is
// idempotent and cancels any pending heartbeat or reconnect timer, but it
// does not refuse a later Open call; Shutdown does that.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.cancelReconnectTimerLocked()
	conns := s.pool.Snapshot()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncCounter(tunmetrics.MetricClosesTotal)
	}

	for _, c := range conns {
		c.Close()
	}

	// Wait for every runBridge goroutine this Close affects to observe
	// s.closing and return, not just for the sockets to report closed:
	// onBridgeEnded must see closing == true before this method clears it.
	done := make(chan struct{})
	go func() {
		s.bridgeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Leave s.closing set: the in-flight teardown goroutines above will
		// still finish and must not be allowed to schedule replacements.
		return ctx.Err()
	}

	s.mu.Lock()
	for _, c := range conns {
		s.pool.Remove(c)
	}
	s.closing = false
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetGauge(tunmetrics.MetricPoolSize, 0)
	}
	s.events.closed()
	return nil
}

// Shutdown permanently stops the Supervisor: it behaves like Close, but
// additionally refuses any future Open call. Use this at process exit;
// use Close alone for the heartbeat's transient teardown.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if err := s.Close(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// QueryProxyInfo issues the tunnel's status request against the remote,
// merging opts over the defaults derived from Config and the tunnel's ID.
func (s *Supervisor) QueryProxyInfo(ctx context.Context, opts *StatusOptions) (map[string]any, error) {
	return s.status.Query(ctx, opts)
}

func (s *Supervisor) cancelReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}
