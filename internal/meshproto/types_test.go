package meshproto

import (
	"testing"

	pcrypto "github.com/plexus-mesh/plexus/pkg/crypto"
)

func testHeartbeat() Heartbeat {
	return Heartbeat{
		PeerID: "abc123",
		Model:  "tinyllama",
		Capabilities: NodeCapabilities{
			CPUCores:    8,
			TotalMemory: 16 << 30,
			ModelLoaded: true,
		},
		Timestamp: 100,
	}
}

func TestSignHeartbeat_VerifiesWithCorrectKey(t *testing.T) {
	key, err := pcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	sh, err := SignHeartbeat(testHeartbeat(), key)
	if err != nil {
		t.Fatalf("SignHeartbeat() error: %v", err)
	}
	if !sh.Verify() {
		t.Error("Verify() = false, want true for correctly signed heartbeat")
	}
}

func TestSignedHeartbeat_RejectsTamperedPayload(t *testing.T) {
	key, _ := pcrypto.GenerateKey()
	sh, err := SignHeartbeat(testHeartbeat(), key)
	if err != nil {
		t.Fatalf("SignHeartbeat() error: %v", err)
	}

	sh.Heartbeat.Timestamp = 999 // tamper after signing
	if sh.Verify() {
		t.Error("Verify() = true for tampered heartbeat, want false")
	}
}

func TestSignedHeartbeat_RejectsWrongKey(t *testing.T) {
	key, _ := pcrypto.GenerateKey()
	other, _ := pcrypto.GenerateKey()

	sh, err := SignHeartbeat(testHeartbeat(), key)
	if err != nil {
		t.Fatalf("SignHeartbeat() error: %v", err)
	}
	sh.PublicKey = other.PublicKey()

	if sh.Verify() {
		t.Error("Verify() = true after public key substitution, want false")
	}
}

func TestEncodeDecodeSignedHeartbeat_RoundTrips(t *testing.T) {
	key, _ := pcrypto.GenerateKey()
	sh, err := SignHeartbeat(testHeartbeat(), key)
	if err != nil {
		t.Fatalf("SignHeartbeat() error: %v", err)
	}

	data, err := EncodeSignedHeartbeat(sh)
	if err != nil {
		t.Fatalf("EncodeSignedHeartbeat() error: %v", err)
	}

	decoded, err := DecodeSignedHeartbeat(data)
	if err != nil {
		t.Fatalf("DecodeSignedHeartbeat() error: %v", err)
	}
	if decoded.Heartbeat != sh.Heartbeat {
		t.Errorf("decoded heartbeat = %+v, want %+v", decoded.Heartbeat, sh.Heartbeat)
	}
	if !decoded.Verify() {
		t.Error("decoded SignedHeartbeat should still verify")
	}
}

func TestDecodeSignedHeartbeat_MalformedRejected(t *testing.T) {
	if _, err := DecodeSignedHeartbeat([]byte("not cbor")); err == nil {
		t.Error("DecodeSignedHeartbeat() error = nil for malformed input, want error")
	}
}

func TestGenerateRequestResponse_RoundTrip(t *testing.T) {
	req := GenerateRequest{Prompt: "hello"}
	data, err := EncodeGenerateRequest(req)
	if err != nil {
		t.Fatalf("EncodeGenerateRequest() error: %v", err)
	}
	decoded, err := DecodeGenerateRequest(data)
	if err != nil {
		t.Fatalf("DecodeGenerateRequest() error: %v", err)
	}
	if decoded != req {
		t.Errorf("decoded request = %+v, want %+v", decoded, req)
	}

	resp := GenerateResponse{Response: "hi there"}
	data, err = EncodeGenerateResponse(resp)
	if err != nil {
		t.Fatalf("EncodeGenerateResponse() error: %v", err)
	}
	decodedResp, err := DecodeGenerateResponse(data)
	if err != nil {
		t.Fatalf("DecodeGenerateResponse() error: %v", err)
	}
	if decodedResp != resp {
		t.Errorf("decoded response = %+v, want %+v", decodedResp, resp)
	}
}
