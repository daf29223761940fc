package identity

import "testing"

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func TestDeriveIDIsStable(t *testing.T) {
	key := testKey()
	id1, err := DeriveID(key)
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	id2, err := DeriveID(key)
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("DeriveID not stable: %q != %q", id1, id2)
	}
	if len(id1) != IDLength {
		t.Fatalf("expected length %d, got %d (%q)", IDLength, len(id1), id1)
	}
}

func TestDeriveIDRejectsBadLength(t *testing.T) {
	if _, err := DeriveID([]byte{1, 2, 3}); err != ErrInvalidKeyLength {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestDeriveIDDiffersPerKey(t *testing.T) {
	key1 := testKey()
	key2 := testKey()
	key2[0] ^= 0xFF
	id1, err := DeriveID(key1)
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	id2, err := DeriveID(key2)
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected different ids for different keys")
	}
}

func TestNewAndURL(t *testing.T) {
	id, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := "https://" + id.ID + ".example.com:443"
	if got := id.URL("example.com:443"); got != want {
		t.Fatalf("URL() = %q, want %q", got, want)
	}
	if got := id.AliasURL("example.com:443", ""); got != "" {
		t.Fatalf("AliasURL with empty alias = %q, want empty", got)
	}
	want = "https://myalias.example.com:443"
	if got := id.AliasURL("example.com:443", "myalias"); got != want {
		t.Fatalf("AliasURL() = %q, want %q", got, want)
	}
}

func TestGenerateKeyLength(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(key))
	}
}
