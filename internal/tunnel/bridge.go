package tunnel

import (
	"fmt"
	"io"
	"net"

	"hostit-tunnel/internal/tunlog"
	"hostit-tunnel/internal/tunmetrics"
)

// bridgeBufSize is the read chunk size used on both directions of a bridge.
const bridgeBufSize = 32 * 1024

// Bridge pairs one authenticated RemoteConnection with one LocalConnection
// and pipes bytes between them until either side ends. It does not decide
// what happens afterward: the Supervisor reacts to the error Run returns.
type Bridge struct {
	cfg     Config
	metrics *tunmetrics.Collector
	logger  *tunlog.Logger
}

// NewBridge constructs a Bridge from cfg, recording byte counters on
// metrics if non-nil.
func NewBridge(cfg Config, metrics *tunmetrics.Collector) *Bridge {
	return &Bridge{cfg: cfg, metrics: metrics, logger: cfg.Logger.WithCategory(tunlog.CatBridge)}
}

// Run wires remote and local together and blocks until piping ends in
// either direction, then closes both sides. It returns the error that ended
// the first direction to finish, or nil if that direction reached a clean
// EOF; the other direction then ends because Run closed both sides, and its
// error is not reported. An error rooted in the local connection (a local-side read or write
// failure) is wrapped in ErrLocalIO so the caller can tell it apart from
// a remote-side failure.
//
// Forward stream: remote -> [HostHeaderRewriter, when localAddress is not
// "localhost"] -> cfg.Transform -> local. Reverse stream: local -> remote,
// untransformed. onConnected, if non-nil, fires once piping is wired.
func (b *Bridge) Run(remote *RemoteConnection, local *LocalConnection, onConnected func()) error {
	var rewriter *HostHeaderRewriter
	if b.cfg.LocalAddress != "localhost" {
		rewriter = NewHostHeaderRewriter(b.cfg.LocalAddress)
	}

	if onConnected != nil {
		onConnected()
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- b.pipeForward(remote.Conn(), local.Conn(), rewriter)
	}()
	go func() {
		errCh <- b.pipeReverse(remote.Conn(), local.Conn())
	}()

	first := <-errCh
	// Ending either side unblocks the other's blocking Read/Write. The error
	// that direction then returns is caused by these Close calls, so it is
	// drained but not reported.
	local.Close()
	remote.Close()
	<-errCh

	return first
}

// pipeForward reads from remote and writes to local. A failure writing to
// local is a local-origin error and is tagged with ErrLocalIO so the
// Supervisor can route replacement unconditionally instead of through the
// bounded remote-error policy.
func (b *Bridge) pipeForward(remote, local net.Conn, rewriter *HostHeaderRewriter) error {
	buf := make([]byte, bridgeBufSize)
	for {
		n, readErr := remote.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if rewriter != nil {
				chunk = rewriter.Apply(chunk)
			}
			chunk = b.cfg.Transform(chunk)
			if _, writeErr := local.Write(chunk); writeErr != nil {
				return fmt.Errorf("%w: %v", ErrLocalIO, writeErr)
			}
			if b.metrics != nil {
				b.metrics.AddCounter(tunmetrics.MetricBytesDown, uint64(len(chunk)))
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// pipeReverse reads from local and writes to remote. A failure reading from
// local is a local-origin error and is tagged with ErrLocalIO for the same
// reason pipeForward tags its local write failures.
func (b *Bridge) pipeReverse(remote, local net.Conn) error {
	buf := make([]byte, bridgeBufSize)
	for {
		n, readErr := local.Read(buf)
		if n > 0 {
			if _, writeErr := remote.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if b.metrics != nil {
				b.metrics.AddCounter(tunmetrics.MetricBytesUp, uint64(n))
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrLocalIO, readErr)
		}
	}
}
