package swarm

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/plexus-mesh/plexus/internal/meshproto"
)

// EventKind identifies which fields of an Event are populated.
type EventKind int

const (
	EventNewListenAddr EventKind = iota
	EventConnectionEstablished
	EventConnectionClosed
	EventGossipMessage
	EventKademliaQueryProgressed
	EventDiscoveredPeer
	EventInboundRequest
	EventOutboundResponse
	EventUnhandled
)

// Event is the single union type NodeService polls from Swarm.Events.
// Only the fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind

	Addr  multiaddr.Multiaddr // NewListenAddr
	Peer  peer.ID             // ConnectionEstablished/Closed, DiscoveredPeer, GossipMessage.From
	Addrs []multiaddr.Multiaddr

	Topic string // GossipMessage
	Data  []byte // GossipMessage

	QueryResult interface{} // KademliaQueryProgressed

	Request  meshproto.GenerateRequest        // InboundRequest
	Respond  func(meshproto.GenerateResponse) // InboundRequest: call exactly once
	Response meshproto.GenerateResponse       // OutboundResponse
}
