package node

import (
	"github.com/plexus-mesh/plexus/internal/meshproto"
)

// NodeStatus is the reply payload for GetStatus.
type NodeStatus struct {
	PeerID      string
	Model       string
	ModelLoaded bool
	ListenAddrs []string
	PeerCount   int
}

// CommandKind discriminates NodeCommand variants without needing a type
// switch over every possible payload shape.
type CommandKind int

const (
	CmdGetStatus CommandKind = iota
	CmdGenerate
	CmdSetSystemPrompt
	CmdTranscribe
	CmdGetMeshState
	CmdGetSystemInfo
	CmdStartPairing
	CmdShutdown
)

// NodeCommand is the single message type the NodeService run loop consumes.
// Only the fields relevant to Kind are populated.
type NodeCommand struct {
	Kind CommandKind

	// Generate
	Prompt string
	Deltas chan<- string // closed by NodeService when generation completes

	// SetSystemPrompt
	SystemPrompt string

	// Transcribe
	Audio []float32

	// Reply channels. Exactly one of these is non-nil, matching Kind.
	StatusReply     chan<- NodeStatus
	GenerateReply   chan<- error
	SystemPromptOK  chan<- struct{}
	TranscribeReply chan<- TranscribeResult
	MeshStateReply  chan<- []meshproto.Heartbeat
	SystemInfoReply chan<- SystemInfo
	PairingReply    chan<- PairingInfo
}

// TranscribeResult is the reply payload for a Transcribe command.
type TranscribeResult struct {
	Text string
	Err  error
}

// PairingInfo is the reply payload for StartPairing: enough for a remote
// peer to dial this node directly.
type PairingInfo struct {
	PeerID      string
	ListenAddrs []string
}
