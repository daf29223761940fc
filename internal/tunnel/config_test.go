package tunnel

import (
	"errors"
	"testing"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{LocalAddress: "localhost", LocalPort: 8080, RemoteAddress: "example.com", RemotePort: 443}
	out, err := cfg.WithDefaults()
	if err != nil {
		t.Fatalf("WithDefaults: %v", err)
	}
	if out.MaxConnections != 24 {
		t.Fatalf("MaxConnections default = %d, want 24", out.MaxConnections)
	}
	if len(out.PrivateKey) != 32 {
		t.Fatalf("PrivateKey default length = %d, want 32", len(out.PrivateKey))
	}
	if out.AutoReconnectInterval.Seconds() != 30 {
		t.Fatalf("AutoReconnectInterval default = %v, want 30s", out.AutoReconnectInterval)
	}
	if out.Transform == nil {
		t.Fatal("Transform default should not be nil")
	}
	if out.Logger == nil {
		t.Fatal("Logger default should not be nil")
	}
	if !out.AutoReconnect() {
		t.Fatal("AutoReconnect() should default to true for a zero-valued Config")
	}
}

func TestConfigDisableAutoReconnect(t *testing.T) {
	cfg := Config{DisableAutoReconnect: true}
	if cfg.AutoReconnect() {
		t.Fatal("AutoReconnect() should be false once DisableAutoReconnect is set")
	}
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	cases := []Config{
		{LocalPort: 80, RemoteAddress: "x", RemotePort: 1, MaxConnections: 1, PrivateKey: make([]byte, 32)},
		{LocalAddress: "a", LocalPort: 0, RemoteAddress: "x", RemotePort: 1, MaxConnections: 1, PrivateKey: make([]byte, 32)},
		{LocalAddress: "a", LocalPort: 80, RemoteAddress: "", RemotePort: 1, MaxConnections: 1, PrivateKey: make([]byte, 32)},
		{LocalAddress: "a", LocalPort: 80, RemoteAddress: "x", RemotePort: 70000, MaxConnections: 1, PrivateKey: make([]byte, 32)},
		{LocalAddress: "a", LocalPort: 80, RemoteAddress: "x", RemotePort: 1, MaxConnections: 0, PrivateKey: make([]byte, 32)},
		{LocalAddress: "a", LocalPort: 80, RemoteAddress: "x", RemotePort: 1, MaxConnections: 1, PrivateKey: make([]byte, 16)},
	}
	for i, c := range cases {
		if err := c.Validate(); !errors.Is(err, ErrConfigInvalid) {
			t.Fatalf("case %d: Validate() = %v, want ErrConfigInvalid", i, err)
		}
	}
}

func TestConfigValidateAcceptsWellFormed(t *testing.T) {
	cfg := Config{LocalAddress: "a", LocalPort: 80, RemoteAddress: "x", RemotePort: 443, MaxConnections: 1, PrivateKey: make([]byte, 32)}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestConfigAddrHelpers(t *testing.T) {
	cfg := Config{LocalAddress: "127.0.0.1", LocalPort: 8080, RemoteAddress: "example.com", RemotePort: 443}
	if got := cfg.LocalAddr(); got != "127.0.0.1:8080" {
		t.Fatalf("LocalAddr() = %q", got)
	}
	if got := cfg.RemoteAddr(); got != "example.com:443" {
		t.Fatalf("RemoteAddr() = %q", got)
	}
}
