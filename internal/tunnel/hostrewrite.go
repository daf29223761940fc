package tunnel

import (
	"regexp"
	"sync"
)

var hostHeaderPattern = regexp.MustCompile(`\r\nHost: \S+`)

// HostHeaderRewriter rewrites the first HTTP Host header it sees in a
// bridge's remote-to-local byte stream to the configured local address. It
// is a one-shot stage: after the first match, every later chunk passes
// through unchanged, even on the same connection's later requests.
//
// Known limitation: the regex matches within a single chunk only. A Host
// header split across a TCP read boundary will not be rewritten.
type HostHeaderRewriter struct {
	mu           sync.Mutex
	localAddress string
	replaced     bool
}

// NewHostHeaderRewriter constructs a rewriter targeting localAddress.
func NewHostHeaderRewriter(localAddress string) *HostHeaderRewriter {
	return &HostHeaderRewriter{localAddress: localAddress}
}

// Apply returns a new slice with the first Host header value replaced and
// marks the rewriter as having fired; chunk itself is never modified. Once
// the rewriter has fired, or when chunk has no match, chunk is returned
// unchanged.
func (h *HostHeaderRewriter) Apply(chunk []byte) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.replaced {
		return chunk
	}
	loc := hostHeaderPattern.FindIndex(chunk)
	if loc == nil {
		return chunk
	}
	replacement := []byte("\r\nHost: " + h.localAddress)
	out := make([]byte, 0, len(chunk)-(loc[1]-loc[0])+len(replacement))
	out = append(out, chunk[:loc[0]]...)
	out = append(out, replacement...)
	out = append(out, chunk[loc[1]:]...)
	h.replaced = true
	return out
}

// Replaced reports whether this rewriter has already fired once.
func (h *HostHeaderRewriter) Replaced() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replaced
}
