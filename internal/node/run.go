package node

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	mlog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/meshproto"
	"github.com/plexus-mesh/plexus/internal/swarm"
)

// Run drives the Service's loop until ctx is cancelled or a Shutdown
// command is received. Commands and swarm events are received here, and
// mesh-state updates and gossip publishing happen only on this goroutine.
// Generate and Transcribe commands and inbound compute requests are served
// on goroutines of their own; generate handlers read mesh state and call
// Swarm.Request from there.
func (s *Service) Run(ctx context.Context) error {
	defer mlog.RecoverAndLog("node run loop")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd, ok := <-s.commands:
			if !ok {
				return nil
			}
			if cmd.Kind == CmdShutdown {
				return nil
			}
			s.handleCommand(ctx, cmd)

		case ev, ok := <-s.swarm.Events():
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)

		case <-ticker.C:
			if err := s.publishHeartbeat(); err != nil {
				mlog.Node.Warn().Err(err).Msg("failed to refresh heartbeat")
			}
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, ev swarm.Event) {
	switch ev.Kind {
	case swarm.EventDiscoveredPeer:
		for _, addr := range ev.Addrs {
			s.swarm.AddKademliaAddress(ev.Peer, addr)
		}

	case swarm.EventGossipMessage:
		if ev.Topic != meshproto.HeartbeatTopic {
			return
		}
		s.handleHeartbeatGossip(ev.Data)

	case swarm.EventInboundRequest:
		go s.handleInboundRequest(ctx, ev)

	case swarm.EventConnectionEstablished,
		swarm.EventConnectionClosed,
		swarm.EventNewListenAddr,
		swarm.EventKademliaQueryProgressed,
		swarm.EventOutboundResponse,
		swarm.EventUnhandled:
		// No action required; these are observability-only from
		// NodeService's perspective.
	}
}

func (s *Service) handleHeartbeatGossip(data []byte) {
	signed, err := meshproto.DecodeSignedHeartbeat(data)
	if err != nil {
		mlog.Node.Warn().Err(err).Msg("dropping malformed heartbeat")
		return
	}
	if !signed.Verify() {
		mlog.Node.Warn().Str("peer_id", signed.Heartbeat.PeerID).Msg("dropping unverified heartbeat")
		return
	}
	if err := s.mesh.Update(signed.Heartbeat); err != nil {
		mlog.Node.Warn().Err(err).Msg("failed to apply gossiped heartbeat")
	}
}

// handleInboundRequest fulfills a peer's compute request with a blocking
// local generation. It always replies, even on engine failure, so the
// requesting peer's Request call never times out needlessly.
func (s *Service) handleInboundRequest(ctx context.Context, ev swarm.Event) {
	defer mlog.RecoverAndLog("inbound request handler")

	text, err := s.engines.TextGen.Generate(ctx, ev.Request.Prompt)
	if err != nil {
		mlog.Node.Warn().Err(err).Msg("inbound generate failed")
		ev.Respond(meshproto.GenerateResponse{Response: ""})
		return
	}
	ev.Respond(meshproto.GenerateResponse{Response: text})
}

func (s *Service) handleCommand(ctx context.Context, cmd NodeCommand) {
	switch cmd.Kind {
	case CmdGetStatus:
		s.handleGetStatus(cmd)
	case CmdGenerate:
		go s.handleGenerate(ctx, cmd)
	case CmdSetSystemPrompt:
		s.systemPrompt = cmd.SystemPrompt
		s.history.AddSystem(cmd.SystemPrompt)
		if cmd.SystemPromptOK != nil {
			cmd.SystemPromptOK <- struct{}{}
		}
	case CmdTranscribe:
		go s.handleTranscribe(ctx, cmd)
	case CmdGetMeshState:
		if cmd.MeshStateReply != nil {
			cmd.MeshStateReply <- s.mesh.GetAll()
		}
	case CmdGetSystemInfo:
		if cmd.SystemInfoReply != nil {
			cmd.SystemInfoReply <- probeSystemInfo(s.cfg.Engine.Device)
		}
	case CmdStartPairing:
		if cmd.PairingReply != nil {
			cmd.PairingReply <- PairingInfo{
				PeerID:      s.swarm.LocalPeerID(),
				ListenAddrs: s.swarm.ListenAddrs(),
			}
		}
	case CmdShutdown:
		// Handled by the Run loop directly; unreachable here.
	}
}

func (s *Service) handleGetStatus(cmd NodeCommand) {
	if cmd.StatusReply == nil {
		return
	}
	cmd.StatusReply <- NodeStatus{
		PeerID:      s.swarm.LocalPeerID(),
		Model:       s.cfg.Engine.Model,
		ModelLoaded: s.engines.TextGen.ModelLoaded(),
		ListenAddrs: s.swarm.ListenAddrs(),
		PeerCount:   len(s.mesh.GetAll()),
	}
}

// handleGenerate dispatches a generation request: it prefers a remote peer
// advertising the same loaded model over the mesh, falling back to local
// inference when no such peer exists or the remote call fails. The remote,
// local-streaming, and local-blocking paths all feed the caller's delta
// channel when one was provided; the compute protocol carries a single
// non-streamed response, so a remote result arrives as one delta.
func (s *Service) handleGenerate(ctx context.Context, cmd NodeCommand) {
	defer mlog.RecoverAndLog("generate command handler")

	if cmd.Deltas != nil {
		defer close(cmd.Deltas)
	}

	prompt := s.history.FormatForChat(cmd.Prompt)
	s.history.AddUser(cmd.Prompt)

	// The swarm bounds the exchange with the compute protocol's own 300 s
	// timeout; no tighter deadline is layered on top.
	if peerID, ok := s.bestRemotePeer(); ok {
		resp, err := s.swarm.Request(ctx, peerID, meshproto.GenerateRequest{Prompt: prompt})
		if err == nil {
			s.history.AddAssistant(resp.Response)
			if cmd.Deltas != nil {
				select {
				case cmd.Deltas <- resp.Response:
				case <-ctx.Done():
				}
			}
			if cmd.GenerateReply != nil {
				cmd.GenerateReply <- nil
			}
			return
		}
		mlog.Node.Warn().Err(err).Str("peer_id", peerID.String()).Msg("remote generate failed, falling back to local")
	}

	if cmd.Deltas != nil {
		s.streamLocal(ctx, prompt, cmd)
		return
	}

	text, err := s.engines.TextGen.Generate(ctx, prompt)
	if err == nil {
		s.history.AddAssistant(text)
	}
	if cmd.GenerateReply != nil {
		cmd.GenerateReply <- err
	}
}

// streamLocal forwards every delta to cmd.Deltas as it arrives while also
// accumulating the full response on a tee goroutine, so the streamed turn is
// recorded in history exactly like a blocking one.
func (s *Service) streamLocal(ctx context.Context, prompt string, cmd NodeCommand) {
	internal := make(chan string)
	full := make(chan string, 1)
	go func() {
		defer mlog.RecoverAndLog("generate stream tee")
		var b strings.Builder
		for delta := range internal {
			b.WriteString(delta)
			select {
			case cmd.Deltas <- delta:
			case <-ctx.Done():
				// Consumer gone; keep draining so the producer can finish.
			}
		}
		full <- b.String()
	}()

	err := s.engines.TextGen.GenerateStream(ctx, prompt, internal)
	close(internal)

	if text := <-full; err == nil && text != "" {
		s.history.AddAssistant(text)
	}
	if cmd.GenerateReply != nil {
		cmd.GenerateReply <- err
	}
}

// bestRemotePeer selects the peer to offload generation to: among peers
// other than self advertising the configured model with it currently
// loaded, the one with the most CPU cores, ties broken by the most recent
// heartbeat.
func (s *Service) bestRemotePeer() (peer.ID, bool) {
	self := s.swarm.LocalPeerID()
	candidates := s.mesh.GetAll()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Capabilities.CPUCores != candidates[j].Capabilities.CPUCores {
			return candidates[i].Capabilities.CPUCores > candidates[j].Capabilities.CPUCores
		}
		return candidates[i].Timestamp > candidates[j].Timestamp
	})

	for _, hb := range candidates {
		if hb.PeerID == self {
			continue
		}
		if hb.Model != s.cfg.Engine.Model || !hb.Capabilities.ModelLoaded {
			continue
		}
		peerID, err := peer.Decode(hb.PeerID)
		if err != nil {
			continue
		}
		return peerID, true
	}
	return "", false
}

func (s *Service) handleTranscribe(ctx context.Context, cmd NodeCommand) {
	defer mlog.RecoverAndLog("transcribe command handler")

	text, err := s.engines.Transcribe.Transcribe(ctx, cmd.Audio)
	if cmd.TranscribeReply == nil {
		return
	}
	if err != nil {
		cmd.TranscribeReply <- TranscribeResult{Err: fmt.Errorf("node: transcribe: %w", err)}
		return
	}
	cmd.TranscribeReply <- TranscribeResult{Text: text}
}
