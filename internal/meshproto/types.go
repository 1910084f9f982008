// Package meshproto defines the wire schemas exchanged between Plexus
// nodes: Heartbeat capability advertisements gossiped over pubsub, and the
// GenerateRequest/GenerateResponse pair carried over the compute
// request/response protocol.
package meshproto

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	pcrypto "github.com/plexus-mesh/plexus/pkg/crypto"
)

// ComputeProtocolID is the libp2p stream protocol identifier used for
// direct inference request/response exchanges between peers.
const ComputeProtocolID = "/plexus/compute/1.0.0"

// HeartbeatTopic is the pubsub topic Heartbeats are gossiped on.
const HeartbeatTopic = "plexus/heartbeat"

// NodeCapabilities snapshots a peer's hardware and readiness.
type NodeCapabilities struct {
	CPUCores    uint32 `cbor:"cpu_cores"`
	TotalMemory uint64 `cbor:"total_memory"`
	GPU         string `cbor:"gpu,omitempty"`
	ModelLoaded bool   `cbor:"model_loaded"`
}

// Heartbeat is the CRDT value gossiped between peers: a capability
// advertisement versioned by a monotonic Unix-seconds timestamp chosen by
// the originating peer.
type Heartbeat struct {
	PeerID       string           `cbor:"peer_id"`
	Model        string           `cbor:"model"`
	Capabilities NodeCapabilities `cbor:"capabilities"`
	Timestamp    uint64           `cbor:"timestamp"`
}

// SignedHeartbeat is the envelope actually placed on the gossip wire: a
// Heartbeat plus the publisher's signature over its canonical CBOR encoding,
// so receivers can reject unsigned or forged capability claims.
type SignedHeartbeat struct {
	Heartbeat Heartbeat `cbor:"heartbeat"`
	PublicKey []byte    `cbor:"public_key"`
	Signature []byte    `cbor:"signature"`
}

// signingBytes returns the canonical encoding of hb that is signed and
// verified. CBOR's deterministic/canonical mode is used so the same
// Heartbeat value always signs to the same bytes.
func signingBytes(hb Heartbeat) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	enc, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return enc.Marshal(hb)
}

// SignHeartbeat produces a SignedHeartbeat authenticated by signer.
func SignHeartbeat(hb Heartbeat, signer *pcrypto.PrivateKey) (SignedHeartbeat, error) {
	msg, err := signingBytes(hb)
	if err != nil {
		return SignedHeartbeat{}, fmt.Errorf("meshproto: encode heartbeat: %w", err)
	}
	return SignedHeartbeat{
		Heartbeat: hb,
		PublicKey: signer.PublicKey(),
		Signature: signer.Sign(msg),
	}, nil
}

// Verify reports whether sh carries a valid signature over its own
// Heartbeat payload.
func (sh SignedHeartbeat) Verify() bool {
	msg, err := signingBytes(sh.Heartbeat)
	if err != nil {
		return false
	}
	return pcrypto.VerifySignature(msg, sh.Signature, sh.PublicKey)
}

// EncodeSignedHeartbeat serializes sh for publication on the gossip topic.
func EncodeSignedHeartbeat(sh SignedHeartbeat) ([]byte, error) {
	return cbor.Marshal(sh)
}

// DecodeSignedHeartbeat parses a gossip message payload into a
// SignedHeartbeat. Callers must still call Verify before trusting it.
func DecodeSignedHeartbeat(data []byte) (SignedHeartbeat, error) {
	var sh SignedHeartbeat
	if err := cbor.Unmarshal(data, &sh); err != nil {
		return SignedHeartbeat{}, fmt.Errorf("meshproto: decode heartbeat: %w", err)
	}
	return sh, nil
}

// GenerateRequest carries a text-generation prompt over the compute
// protocol.
type GenerateRequest struct {
	Prompt string `cbor:"prompt"`
}

// GenerateResponse carries the completed (non-streamed) text-generation
// result for a single GenerateRequest.
type GenerateResponse struct {
	Response string `cbor:"response"`
}

// EncodeGenerateRequest serializes a GenerateRequest for the wire.
func EncodeGenerateRequest(req GenerateRequest) ([]byte, error) {
	return cbor.Marshal(req)
}

// DecodeGenerateRequest parses a wire-encoded GenerateRequest.
func DecodeGenerateRequest(data []byte) (GenerateRequest, error) {
	var req GenerateRequest
	if err := cbor.Unmarshal(data, &req); err != nil {
		return GenerateRequest{}, fmt.Errorf("meshproto: decode request: %w", err)
	}
	return req, nil
}

// EncodeGenerateResponse serializes a GenerateResponse for the wire.
func EncodeGenerateResponse(resp GenerateResponse) ([]byte, error) {
	return cbor.Marshal(resp)
}

// DecodeGenerateResponse parses a wire-encoded GenerateResponse.
func DecodeGenerateResponse(data []byte) (GenerateResponse, error) {
	var resp GenerateResponse
	if err := cbor.Unmarshal(data, &resp); err != nil {
		return GenerateResponse{}, fmt.Errorf("meshproto: decode response: %w", err)
	}
	return resp, nil
}
