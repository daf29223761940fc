package tunnel

import (
	"context"
	"testing"
	"time"
)

func TestConnectionHealthEmptyPool(t *testing.T) {
	alive, rtt := connectionHealth(nil)
	if alive != 0 || rtt != 0 {
		t.Fatalf("connectionHealth(nil) = (%d, %v), want (0, 0)", alive, rtt)
	}
}

func TestSupervisorHealthReportsAliveConnections(t *testing.T) {
	remote := startFakeRemote(t)
	localPort := startFakeLocal(t)
	cfg := testSupervisorConfig(t, remote.addr(), localPort, 2)

	sup, err := NewSupervisor(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Open(ctx, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}

	h := sup.Health()
	if h.PoolSize != 2 {
		t.Fatalf("PoolSize = %d, want 2", h.PoolSize)
	}
	if h.AliveConnections != 2 {
		t.Fatalf("AliveConnections = %d, want 2", h.AliveConnections)
	}
}
