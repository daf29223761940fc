package tunnel

import (
	"net"
	"testing"
)

func newTestRemoteConn(t *testing.T) (*RemoteConnection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	return &RemoteConnection{conn: client, closed: make(chan struct{})}, server
}

func TestPoolAddRemoveSize(t *testing.T) {
	p := NewPool(4)
	if p.Size() != 0 {
		t.Fatalf("expected empty pool, got size %d", p.Size())
	}

	c1, _ := newTestRemoteConn(t)
	c2, _ := newTestRemoteConn(t)
	defer c1.Close()
	defer c2.Close()

	p.Add(c1)
	p.Add(c2)
	if p.Size() != 2 {
		t.Fatalf("expected size 2, got %d", p.Size())
	}

	p.Remove(c1)
	if p.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", p.Size())
	}

	p.Remove(c1) // idempotent
	if p.Size() != 1 {
		t.Fatalf("double remove changed size: %d", p.Size())
	}
}

func TestPoolSnapshotIsIndependentOfLiveSet(t *testing.T) {
	p := NewPool(4)
	c1, _ := newTestRemoteConn(t)
	defer c1.Close()
	p.Add(c1)

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected snapshot of length 1, got %d", len(snap))
	}

	p.Remove(c1)
	if len(snap) != 1 {
		t.Fatalf("snapshot mutated after later pool change")
	}
	if p.Size() != 0 {
		t.Fatalf("expected live size 0, got %d", p.Size())
	}
}

func TestPoolNeverExceedsMaxInvariant(t *testing.T) {
	max := 4
	p := NewPool(max)
	var conns []*RemoteConnection
	for i := 0; i < max; i++ {
		c, _ := newTestRemoteConn(t)
		conns = append(conns, c)
		p.Add(c)
	}
	for _, c := range conns {
		defer c.Close()
	}
	if p.Size() != max {
		t.Fatalf("expected size %d, got %d", max, p.Size())
	}
	if p.Size() > p.Max() {
		t.Fatalf("pool size %d exceeds max %d", p.Size(), p.Max())
	}
}
