// Package identity derives a tunnel's public identity from its private key,
// the way the upstream agent derives a stable client ID from the key it
// authenticates with, and builds the public URLs the remote exposes it under.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160"
)

// IDLength is the fixed length, in hex characters, of a derived tunnel ID.
const IDLength = 40

// Identity holds a tunnel's private key and the public identifiers derived
// from it.
type Identity struct {
	PrivateKey []byte // 32-byte secp256k1 scalar
	ID         string // lowercase hex, IDLength characters
}

var ErrInvalidKeyLength = errors.New("identity: private key must be 32 bytes")

// GenerateKey returns a new random 32-byte secp256k1 private key, used as the
// TunnelConfig.privateKey default when the caller supplies none.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return key, nil
}

// New derives an Identity from privateKey.
//
// id = hex(RIPEMD160(SHA256(compressed secp256k1 pubkey)))
func New(privateKey []byte) (*Identity, error) {
	if len(privateKey) != 32 {
		return nil, ErrInvalidKeyLength
	}
	id, err := DeriveID(privateKey)
	if err != nil {
		return nil, err
	}
	return &Identity{PrivateKey: privateKey, ID: id}, nil
}

// DeriveID computes the tunnel ID for privateKey without allocating an
// Identity. New uses it to fill Identity.ID.
func DeriveID(privateKey []byte) (string, error) {
	if len(privateKey) != 32 {
		return "", ErrInvalidKeyLength
	}
	priv, pub := btcec.PrivKeyFromBytes(privateKey)
	defer priv.Zero()

	pubBytes := pub.SerializeCompressed()
	shaSum := sha256.Sum256(pubBytes)

	ripemd := ripemd160.New()
	if _, err := ripemd.Write(shaSum[:]); err != nil {
		return "", fmt.Errorf("identity: ripemd160: %w", err)
	}
	digest := ripemd.Sum(nil)

	id := hex.EncodeToString(digest)
	if len(id) != IDLength {
		return "", fmt.Errorf("identity: unexpected id length %d", len(id))
	}
	return id, nil
}

// URL returns the public URL the remote server exposes this tunnel at,
// given the remote server's advertised address (host[:port] form, no scheme).
func (i *Identity) URL(remoteAddress string) string {
	return "https://" + i.ID + "." + remoteAddress
}

// AliasURL returns the public URL for an alias hostname the status client
// reported for this tunnel, or "" if alias is empty.
func (i *Identity) AliasURL(remoteAddress, alias string) string {
	if alias == "" {
		return ""
	}
	return "https://" + alias + "." + remoteAddress
}
