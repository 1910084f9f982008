// Package crypto provides the cryptographic primitives Plexus nodes use to
// sign their identity and their gossiped Heartbeats.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// PrivateKeySize and PublicKeySize mirror the stdlib ed25519 sizes, named
// here so callers don't need to import crypto/ed25519 themselves.
const (
	PrivateKeySize = ed25519.PrivateKeySize
	PublicKeySize  = ed25519.PublicKeySize
)

// Signer signs messages with an Ed25519 private key.
type Signer interface {
	// Sign produces a signature over an arbitrary-length message.
	Sign(message []byte) []byte
	// PublicKey returns the 32-byte Ed25519 public key.
	PublicKey() []byte
}

// Verifier verifies Ed25519 signatures.
type Verifier interface {
	Verify(message, signature, publicKey []byte) bool
}

// PrivateKey wraps an Ed25519 private key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// GenerateKey creates a new random Ed25519 keypair.
func GenerateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &PrivateKey{key: priv}, nil
}

// PrivateKeyFromBytes reconstructs a PrivateKey from its 64-byte seed+public
// encoding, as produced by Serialize.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(key, b)
	return &PrivateKey{key: key}, nil
}

// Sign produces a signature over message.
func (pk *PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(pk.key, message)
}

// PublicKey returns the 32-byte Ed25519 public key.
func (pk *PrivateKey) PublicKey() []byte {
	pub, ok := pk.key.Public().(ed25519.PublicKey)
	if !ok {
		return nil
	}
	return []byte(pub)
}

// Serialize returns the raw 64-byte private key (seed || public key).
func (pk *PrivateKey) Serialize() []byte {
	out := make([]byte, len(pk.key))
	copy(out, pk.key)
	return out
}

// VerifySignature checks an Ed25519 signature against a message and a
// 32-byte public key. Returns false on any malformed input rather than
// erroring, since callers treat an invalid signature as "reject silently".
func VerifySignature(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// Ed25519Verifier implements the Verifier interface.
type Ed25519Verifier struct{}

// Verify checks an Ed25519 signature against a message and public key.
func (v Ed25519Verifier) Verify(message, signature, publicKey []byte) bool {
	return VerifySignature(message, signature, publicKey)
}
