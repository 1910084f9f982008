package node

import (
	"context"
	"testing"
	"time"

	"github.com/plexus-mesh/plexus/config"
	"github.com/plexus-mesh/plexus/internal/meshproto"
	"github.com/plexus-mesh/plexus/internal/registry"
)

func testConfig(t *testing.T, networkID string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir: dir,
		P2P: config.P2PConfig{
			ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
			NoDiscover:  true,
			NetworkID:   networkID,
		},
		Engine: config.EngineConfig{
			Model:            "plexus/toy-model",
			ModelRegistryURL: "unused",
			IntegrityMode:    config.IntegrityDisabled,
			Device:           "cpu",
		},
		Log: config.LogConfig{Level: "error"},
	}
}

func newTestService(t *testing.T, networkID string) (*Service, chan NodeCommand) {
	t.Helper()
	cfg := testConfig(t, networkID)
	cmds := make(chan NodeCommand, 8)
	reg := &registry.StaticClient{CacheDir: cfg.DataDir, Content: []byte("weights")}

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := newWithRegistry(ctx, cfg, cmds, reg)
	if err != nil {
		cancel()
		t.Fatalf("newWithRegistry: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		svc.Close()
	})
	return svc, cmds
}

func runService(t *testing.T, svc *Service) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		svc.Run(svc.ctx)
		close(done)
	}()
	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
}

func TestService_GetStatusReportsPeerID(t *testing.T) {
	svc, cmds := newTestService(t, "test-status")
	runService(t, svc)

	reply := make(chan NodeStatus, 1)
	cmds <- NodeCommand{Kind: CmdGetStatus, StatusReply: reply}

	select {
	case status := <-reply:
		if status.PeerID == "" {
			t.Fatal("expected non-empty PeerID")
		}
		if status.Model != "plexus/toy-model" {
			t.Fatalf("expected configured model, got %q", status.Model)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status reply")
	}

	cmds <- NodeCommand{Kind: CmdShutdown}
}

func TestService_GenerateFallsBackToLocal(t *testing.T) {
	svc, cmds := newTestService(t, "test-generate")
	runService(t, svc)

	reply := make(chan error, 1)
	cmds <- NodeCommand{Kind: CmdGenerate, Prompt: "hello mesh", GenerateReply: reply}

	select {
	case err := <-reply:
		if err != nil {
			t.Fatalf("expected local fallback to succeed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for generate reply")
	}

	cmds <- NodeCommand{Kind: CmdShutdown}
}

func TestService_GenerateStreamDeliversDeltas(t *testing.T) {
	svc, cmds := newTestService(t, "test-generate-stream")
	runService(t, svc)

	deltas := make(chan string, 256)
	reply := make(chan error, 1)
	cmds <- NodeCommand{Kind: CmdGenerate, Prompt: "stream mesh", Deltas: deltas, GenerateReply: reply}

	var total string
	for delta := range deltas {
		total += delta
	}
	select {
	case err := <-reply:
		if err != nil {
			t.Fatalf("expected stream to succeed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream reply")
	}
	if total == "" {
		t.Fatal("expected at least one streamed delta")
	}

	cmds <- NodeCommand{Kind: CmdShutdown}
}

func TestService_SetSystemPromptAcknowledges(t *testing.T) {
	svc, cmds := newTestService(t, "test-sysprompt")
	runService(t, svc)

	ok := make(chan struct{}, 1)
	cmds <- NodeCommand{Kind: CmdSetSystemPrompt, SystemPrompt: "be terse", SystemPromptOK: ok}

	select {
	case <-ok:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for system prompt ack")
	}

	cmds <- NodeCommand{Kind: CmdShutdown}
}

func TestService_GetMeshStateIncludesSelf(t *testing.T) {
	svc, cmds := newTestService(t, "test-meshstate")
	runService(t, svc)

	reply := make(chan []meshproto.Heartbeat, 1)
	cmds <- NodeCommand{Kind: CmdGetMeshState, MeshStateReply: reply}

	select {
	case hbs := <-reply:
		if len(hbs) < 1 {
			t.Fatal("expected at least self in mesh state")
		}
		found := false
		for _, hb := range hbs {
			if hb.PeerID == svc.swarm.LocalPeerID() {
				found = true
			}
		}
		if !found {
			t.Fatal("expected self heartbeat present in mesh state")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for mesh state reply")
	}

	cmds <- NodeCommand{Kind: CmdShutdown}
}

func TestService_StartPairingReturnsDialableInfo(t *testing.T) {
	svc, cmds := newTestService(t, "test-pairing")
	runService(t, svc)

	reply := make(chan PairingInfo, 1)
	cmds <- NodeCommand{Kind: CmdStartPairing, PairingReply: reply}

	select {
	case info := <-reply:
		if info.PeerID == "" {
			t.Fatal("expected non-empty PeerID")
		}
		if len(info.ListenAddrs) == 0 {
			t.Fatal("expected at least one listen address")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pairing reply")
	}

	cmds <- NodeCommand{Kind: CmdShutdown}
}
