// Package handshake implements the tunnel authentication codec: parsing the
// challenge blob the remote sends as the first frame of a new connection,
// and producing the signed response frame the client writes back. It plays
// the same "black box between the wire and the private key" role the
// upstream agent's crypto package plays for its own nonce handshake, adapted
// here to asymmetric signing instead of shared-secret HMAC.
package handshake

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ChallengeSize is the fixed length of a challenge blob. The remote is
// defined to send the challenge as a single write of exactly this many
// bytes; the client never reassembles a challenge from multiple reads.
const ChallengeSize = 32

// Challenge is a parsed challenge blob.
type Challenge struct {
	Nonce [ChallengeSize]byte
}

var (
	ErrShortChallenge = errors.New("handshake: challenge blob too short")
	ErrInvalidKey     = errors.New("handshake: invalid private key")
)

// Parse reads a Challenge out of a raw blob received from the remote.
// The remote sends exactly ChallengeSize bytes in one write; any fewer is a
// malformed challenge and Parse fails without attempting to wait for more.
func Parse(blob []byte) (*Challenge, error) {
	if len(blob) < ChallengeSize {
		return nil, ErrShortChallenge
	}
	c := &Challenge{}
	copy(c.Nonce[:], blob[:ChallengeSize])
	return c, nil
}

// Sign produces the signed response frame for challenge using privateKey.
// The response is a single write: the ECDSA signature (DER-encoded) over
// SHA-256(nonce), exactly the bytes the remote expects as the client's proof
// of key possession. Equivalent in role to the upstream agent's
// `Handshake.from(challenge).sign(privateKey).toBuffer()`.
func Sign(challenge *Challenge, privateKey []byte) ([]byte, error) {
	if len(privateKey) != 32 {
		return nil, ErrInvalidKey
	}
	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	defer priv.Zero()

	digest := sha256.Sum256(challenge.Nonce[:])
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize(), nil
}

// Verify checks that sig is a valid signature over challenge by the holder
// of the private key matching pubKey. Provided for symmetry and for tests
// exercising the handshake round trip; the client itself never verifies its
// own signature, it only produces one.
func Verify(challenge *Challenge, sig []byte, pubKey []byte) (bool, error) {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("handshake: parse pubkey: %w", err)
	}
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, fmt.Errorf("handshake: parse signature: %w", err)
	}
	digest := sha256.Sum256(challenge.Nonce[:])
	return parsedSig.Verify(digest[:], pk), nil
}
