package tunnel

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"hostit-tunnel/internal/tunlog"
)

func pipedConns(t *testing.T) (*RemoteConnection, net.Conn, *LocalConnection, net.Conn) {
	t.Helper()
	remoteClient, remoteServer := net.Pipe()
	localClient, localServer := net.Pipe()
	t.Cleanup(func() {
		remoteServer.Close()
		localServer.Close()
	})
	remote := &RemoteConnection{conn: remoteClient, closed: make(chan struct{})}
	local := &LocalConnection{conn: localClient}
	return remote, remoteServer, local, localServer
}

func TestBridgeRewritesHostHeaderOnceThenPassesThrough(t *testing.T) {
	cfg := Config{LocalAddress: "internal.svc", Transform: identityTransform, Logger: tunlog.Noop()}
	b := NewBridge(cfg, nil)
	remote, remoteServer, local, localServer := pipedConns(t)

	connected := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- b.Run(remote, local, func() { close(connected) }) }()

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onConnected")
	}

	req1 := "GET / HTTP/1.1\r\nHost: public.example\r\n\r\n"
	go remoteServer.Write([]byte(req1))
	buf := make([]byte, 256)
	n, err := localServer.Read(buf)
	if err != nil {
		t.Fatalf("localServer.Read: %v", err)
	}
	want1 := "GET / HTTP/1.1\r\nHost: internal.svc\r\n\r\n"
	if got := string(buf[:n]); got != want1 {
		t.Fatalf("first request = %q, want %q", got, want1)
	}

	req2 := "GET /again HTTP/1.1\r\nHost: public.example\r\n\r\n"
	go remoteServer.Write([]byte(req2))
	n, err = localServer.Read(buf)
	if err != nil {
		t.Fatalf("localServer.Read (2nd): %v", err)
	}
	if got := string(buf[:n]); got != req2 {
		t.Fatalf("second request = %q, want unchanged %q", got, req2)
	}

	remoteServer.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Bridge.Run returned error on clean remote close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Bridge.Run to return")
	}
}

func TestBridgeLoopbackPassthrough(t *testing.T) {
	cfg := Config{LocalAddress: "localhost", Transform: identityTransform, Logger: tunlog.Noop()}
	b := NewBridge(cfg, nil)
	remote, remoteServer, local, localServer := pipedConns(t)

	done := make(chan error, 1)
	go func() { done <- b.Run(remote, local, nil) }()

	payload := "GET / HTTP/1.1\r\nHost: public.example\r\n\r\n"
	go remoteServer.Write([]byte(payload))
	buf := make([]byte, 256)
	n, err := localServer.Read(buf)
	if err != nil {
		t.Fatalf("localServer.Read: %v", err)
	}
	if got := string(buf[:n]); got != payload {
		t.Fatalf("localhost target rewrote header: got %q, want verbatim %q", got, payload)
	}

	remoteServer.Close()
	<-done
}

func TestBridgeReversePathUntransformed(t *testing.T) {
	cfg := Config{LocalAddress: "internal.svc", Transform: identityTransform, Logger: tunlog.Noop()}
	b := NewBridge(cfg, nil)
	remote, remoteServer, local, localServer := pipedConns(t)

	done := make(chan error, 1)
	go func() { done <- b.Run(remote, local, nil) }()

	payload := []byte("HTTP/1.1 200 OK\r\nHost: should-not-be-touched\r\n\r\n")
	go localServer.Write(payload)
	buf := make([]byte, 256)
	n, err := remoteServer.Read(buf)
	if err != nil {
		t.Fatalf("remoteServer.Read: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("reverse path mutated bytes: got %q, want %q", buf[:n], payload)
	}

	localServer.Close()
	<-done
}

func TestBridgeTagsLocalWriteFailureAsErrLocalIO(t *testing.T) {
	cfg := Config{LocalAddress: "localhost", Transform: identityTransform, Logger: tunlog.Noop()}
	b := NewBridge(cfg, nil)
	remote, remoteServer, local, _ := pipedConns(t)

	done := make(chan error, 1)
	go func() { done <- b.Run(remote, local, nil) }()

	// An expired write deadline on the bridge's local connection makes the
	// bridge's write to local, once remoteServer sends a chunk, fail with a
	// local-origin error. The local peer stays open, so the reverse
	// direction does not end first with a clean EOF.
	local.Conn().SetWriteDeadline(time.Now())
	remoteServer.Write([]byte("hello"))

	select {
	case err := <-done:
		if !errors.Is(err, ErrLocalIO) {
			t.Fatalf("Bridge.Run error = %v, want one wrapping ErrLocalIO", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Bridge.Run to return")
	}
}

func TestBridgeAppliesUserTransform(t *testing.T) {
	upper := func(chunk []byte) []byte {
		out := make([]byte, len(chunk))
		for i, b := range chunk {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			out[i] = b
		}
		return out
	}
	cfg := Config{LocalAddress: "localhost", Transform: upper, Logger: tunlog.Noop()}
	b := NewBridge(cfg, nil)
	remote, remoteServer, local, localServer := pipedConns(t)

	done := make(chan error, 1)
	go func() { done <- b.Run(remote, local, nil) }()

	go remoteServer.Write([]byte("hello"))
	buf := make([]byte, 32)
	n, err := localServer.Read(buf)
	if err != nil {
		t.Fatalf("localServer.Read: %v", err)
	}
	if got := string(buf[:n]); got != "HELLO" {
		t.Fatalf("transform not applied: got %q", got)
	}

	remoteServer.Close()
	<-done
}
