// Package identity owns a node's long-term Ed25519 signing keypair and the
// PeerId derived from it. The keypair is the one piece of state in Plexus
// that is created once and never mutated afterward.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	pcrypto "github.com/plexus-mesh/plexus/pkg/crypto"
)

// ErrIdentityCorrupt is returned when the on-disk identity file exists but
// cannot be decoded into a valid keypair.
var ErrIdentityCorrupt = errors.New("identity: corrupt identity file")

// ErrIdentityPersist is returned when a freshly generated keypair cannot be
// written to disk. The in-memory keypair is never handed back to the caller
// in this case.
var ErrIdentityPersist = errors.New("identity: failed to persist identity")

// protobuf field numbers for the on-disk Keypair message:
//
//	message Keypair {
//	  bytes private_key = 1;
//	  bytes public_key  = 2;
//	}
const (
	fieldPrivateKey = protowire.Number(1)
	fieldPublicKey  = protowire.Number(2)
)

// Keypair is a node's Ed25519 identity.
type Keypair struct {
	private *pcrypto.PrivateKey
	public  []byte
}

// PeerID is the stable identifier derived from the public half of a Keypair.
// It is the hex encoding of the raw 32-byte Ed25519 public key.
type PeerID string

// PublicKey returns the raw 32-byte Ed25519 public key.
func (k *Keypair) PublicKey() []byte {
	return k.public
}

// PeerID derives this keypair's stable PeerID.
func (k *Keypair) PeerID() PeerID {
	return PeerID(fmt.Sprintf("%x", k.public))
}

// Sign signs message with the node's private key.
func (k *Keypair) Sign(message []byte) []byte {
	return k.private.Sign(message)
}

// SigningKey exposes the underlying private key for callers that need to
// pass it to another API expecting a *pcrypto.PrivateKey (e.g. signing a
// Heartbeat, or deriving a libp2p host identity from the same key material).
func (k *Keypair) SigningKey() *pcrypto.PrivateKey {
	return k.private
}

// LoadOrGenerate loads the keypair persisted at path, or generates and
// persists a new one if path does not exist.
//
// On decode failure the existing file is left untouched and ErrIdentityCorrupt
// is returned wrapping the underlying cause. On a fresh-generation path, the
// file is created with owner-only permissions (mode 0600) *before* any secret
// material is written to it; the in-memory keypair is only returned once
// persistence has succeeded.
func LoadOrGenerate(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		kp, decodeErr := decodeKeypair(data)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrIdentityCorrupt, path, decodeErr)
		}
		return kp, nil
	case os.IsNotExist(err):
		return generateAndPersist(path)
	default:
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
}

func generateAndPersist(path string) (*Keypair, error) {
	priv, err := pcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	kp := &Keypair{private: priv, public: priv.PublicKey()}

	if err := persist(path, kp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityPersist, err)
	}
	return kp, nil
}

func persist(path string, kp *Keypair) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create identity dir: %w", err)
		}
	}

	// Create the file with owner-only permissions before any secret bytes
	// are written, so a concurrent reader never observes a world-readable
	// window.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create identity file: %w", err)
	}
	defer f.Close()

	encoded := encodeKeypair(kp)
	if _, err := f.Write(encoded); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return f.Sync()
}

func encodeKeypair(kp *Keypair) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPrivateKey, protowire.BytesType)
	b = protowire.AppendBytes(b, kp.private.Serialize())
	b = protowire.AppendTag(b, fieldPublicKey, protowire.BytesType)
	b = protowire.AppendBytes(b, kp.public)
	return b
}

func decodeKeypair(data []byte) (*Keypair, error) {
	var privBytes, pubBytes []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldPrivateKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			privBytes = v
			data = data[n:]
		case num == fieldPublicKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			pubBytes = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	if privBytes == nil || pubBytes == nil {
		return nil, fmt.Errorf("identity: missing required fields")
	}

	priv, err := pcrypto.PrivateKeyFromBytes(privBytes)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid private key: %w", err)
	}
	return &Keypair{private: priv, public: pubBytes}, nil
}
