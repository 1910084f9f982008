package swarm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	mlog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/meshproto"
)

// requestTimeout bounds both sides of a compute request/response exchange;
// CPU inference is slow, so this is generous relative to typical RPC.
const requestTimeout = 300 * time.Second

// maxRequestBytes caps how much a single inbound request/response frame may
// carry, so a malformed peer cannot force unbounded buffering.
const maxRequestBytes = 16 * 1024 * 1024

// registerComputeHandler installs the /plexus/compute/1.0.0 stream handler.
// Every inbound stream is decoded into a GenerateRequest and surfaced to
// NodeService as an InboundRequest event carrying a Respond callback; the
// handler goroutine blocks until Respond is called or requestTimeout elapses.
func (s *Swarm) registerComputeHandler() {
	s.host.SetStreamHandler(meshproto.ComputeProtocolID, func(stream network.Stream) {
		defer func() {
			if r := recover(); r != nil {
				mlog.Swarm.Error().Interface("panic", r).Msg("compute stream handler panicked")
			}
		}()
		s.handleComputeStream(stream)
	})
}

func (s *Swarm) handleComputeStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(requestTimeout))
	raw, err := io.ReadAll(io.LimitReader(stream, maxRequestBytes))
	if err != nil {
		mlog.Swarm.Warn().Err(err).Str("peer", stream.Conn().RemotePeer().String()).Msg("read inbound compute request")
		return
	}
	req, err := meshproto.DecodeGenerateRequest(raw)
	if err != nil {
		mlog.Swarm.Warn().Err(err).Str("peer", stream.Conn().RemotePeer().String()).Msg("malformed inbound compute request")
		return
	}

	replyCh := make(chan meshproto.GenerateResponse, 1)
	s.emit(Event{
		Kind:    EventInboundRequest,
		Peer:    stream.Conn().RemotePeer(),
		Request: req,
		Respond: func(resp meshproto.GenerateResponse) {
			select {
			case replyCh <- resp:
			default:
			}
		},
	})

	select {
	case resp := <-replyCh:
		_ = stream.SetWriteDeadline(time.Now().Add(requestTimeout))
		data, err := meshproto.EncodeGenerateResponse(resp)
		if err != nil {
			mlog.Swarm.Warn().Err(err).Msg("encode compute response")
			return
		}
		if _, err := stream.Write(data); err != nil {
			mlog.Swarm.Warn().Err(err).Msg("write compute response")
		}
	case <-time.After(requestTimeout):
		mlog.Swarm.Warn().Str("peer", stream.Conn().RemotePeer().String()).Msg("inbound compute request timed out awaiting reply")
	case <-s.ctx.Done():
	}
}

// Request opens an outbound stream to peerID on the compute protocol,
// sends req, and waits up to requestTimeout for a response.
func (s *Swarm) Request(ctx context.Context, peerID peer.ID, req meshproto.GenerateRequest) (meshproto.GenerateResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	stream, err := s.host.NewStream(reqCtx, peerID, meshproto.ComputeProtocolID)
	if err != nil {
		return meshproto.GenerateResponse{}, fmt.Errorf("swarm: open compute stream: %w", err)
	}
	defer stream.Close()

	data, err := meshproto.EncodeGenerateRequest(req)
	if err != nil {
		return meshproto.GenerateResponse{}, fmt.Errorf("swarm: encode compute request: %w", err)
	}

	_ = stream.SetWriteDeadline(time.Now().Add(requestTimeout))
	if _, err := stream.Write(data); err != nil {
		return meshproto.GenerateResponse{}, fmt.Errorf("swarm: write compute request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return meshproto.GenerateResponse{}, fmt.Errorf("swarm: close compute request write side: %w", err)
	}

	_ = stream.SetReadDeadline(time.Now().Add(requestTimeout))
	raw, err := io.ReadAll(io.LimitReader(stream, maxRequestBytes))
	if err != nil {
		return meshproto.GenerateResponse{}, fmt.Errorf("swarm: read compute response: %w", err)
	}
	resp, err := meshproto.DecodeGenerateResponse(raw)
	if err != nil {
		return meshproto.GenerateResponse{}, fmt.Errorf("swarm: decode compute response: %w", err)
	}
	return resp, nil
}
