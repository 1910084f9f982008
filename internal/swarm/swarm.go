// Package swarm composes the libp2p transport stack a NodeService drives:
// gossip pub/sub, a Kademlia DHT, LAN discovery, a request/response
// protocol, and relay/hole-punch NAT traversal, all behind a single event
// stream and a small set of imperative operations.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	mlog "github.com/plexus-mesh/plexus/internal/log"
)

// dhtProtocolPrefix namespaces this mesh's DHT records and rendezvous
// strings away from any other libp2p application sharing the same peers.
const dhtProtocolPrefix = "/plexus"

// idleConnTimeout is the connection manager's grace period: a new
// connection is exempt from trimming for this long. Trimming starts only
// above the high watermark (256 connections); an idle connection below it
// stays open.
const idleConnTimeout = 60 * time.Second

// Config holds swarm construction settings. It is a subset of
// config.P2PConfig translated into the types libp2p wants.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []string
	NoDiscover     bool
	DHTServer      bool
	NetworkID      string
}

// DefaultListenAddrs is the multiaddr surface mandated in §6: TCP and QUIC
// on all IPv4 interfaces plus TCP on all IPv6 interfaces, all on an
// ephemeral port.
func DefaultListenAddrs() []string {
	return []string{
		"/ip4/0.0.0.0/tcp/0",
		"/ip4/0.0.0.0/udp/0/quic-v1",
		"/ip6/::/tcp/0",
	}
}

// Swarm is the composed network stack. The NodeService run loop makes most
// calls on it; the NodeService's generate handlers also call Request and
// LocalPeerID from their own goroutines. Joined topics and subscriptions
// are guarded by mu.
type Swarm struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	networkID string
}

// New builds and starts the libp2p host and all composed sub-behaviours.
// priv is the libp2p host identity key; callers derive it from the node's
// own Ed25519 signing key so the swarm's PeerID is stable across restarts
// without a second on-disk keypair.
func New(ctx context.Context, priv libp2pcrypto.PrivKey, cfg Config) (*Swarm, error) {
	sctx, cancel := context.WithCancel(ctx)

	listenAddrs := cfg.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = DefaultListenAddrs()
	}

	cm, err := connmgr.NewConnManager(64, 256, connmgr.WithGracePeriod(idleConnTimeout))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("swarm: create connection manager: %w", err)
	}

	// Defaults already include TCP+QUIC transports, Noise security, and a
	// yamux multiplexer on stream-based transports; only relay, hole
	// punching, and the identity/listen surface need to be named here.
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(),
		libp2p.EnableNATService(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("swarm: create libp2p host: %w", err)
	}

	s := &Swarm{
		host:      h,
		ctx:       sctx,
		cancel:    cancel,
		events:    make(chan Event, 256),
		topics:    make(map[string]*pubsub.Topic),
		subs:      make(map[string]*pubsub.Subscription),
		networkID: cfg.NetworkID,
	}

	h.Network().Notify(&connNotifiee{swarm: s})

	kad, err := dht.New(sctx, h,
		dht.Mode(dhtMode(cfg.DHTServer)),
		dht.ProtocolPrefix(dhtProtocolPrefix),
		dht.NamespacedValidator("plexus", permissiveValidator{}),
	)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("swarm: create kademlia dht: %w", err)
	}
	s.dht = kad

	ps, err := pubsub.NewGossipSub(sctx, h,
		pubsub.WithMessageSigning(true),
		pubsub.WithStrictSignatureVerification(true),
	)
	if err != nil {
		kad.Close()
		h.Close()
		cancel()
		return nil, fmt.Errorf("swarm: create gossipsub: %w", err)
	}
	s.pubsub = ps

	s.registerComputeHandler()

	if len(cfg.BootstrapPeers) > 0 {
		s.dialBootstrapPeers(cfg.BootstrapPeers)
	}

	if !cfg.NoDiscover {
		if err := s.startMDNS(); err != nil {
			mlog.Swarm.Warn().Err(err).Msg("mdns discovery unavailable")
		}
	}

	return s, nil
}

func dhtMode(server bool) dht.ModeOpt {
	if server {
		return dht.ModeServer
	}
	return dht.ModeClient
}

// rendezvous returns the mDNS service namespace isolating this network from
// any other Plexus deployment sharing the same LAN segment.
func (s *Swarm) rendezvous() string {
	if s.networkID != "" {
		return "plexus/" + s.networkID
	}
	return "plexus"
}

func (s *Swarm) startMDNS() error {
	svc := mdns.NewMdnsService(s.host, s.rendezvous(), &discoveryNotifee{swarm: s})
	return svc.Start()
}

func (s *Swarm) dialBootstrapPeers(addrs []string) {
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			mlog.Swarm.Warn().Str("addr", addr).Err(err).Msg("bad bootstrap address")
			continue
		}
		go func(info *peer.AddrInfo) {
			dialCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
			defer cancel()
			if err := s.host.Connect(dialCtx, *info); err != nil {
				mlog.Swarm.Warn().Str("peer", info.ID.String()).Err(err).Msg("bootstrap connect failed")
				return
			}
			s.dht.RoutingTable().TryAddPeer(info.ID, true, true)
		}(info)
	}
}

// Events returns the single event stream NodeService polls.
func (s *Swarm) Events() <-chan Event {
	return s.events
}

func (s *Swarm) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// LocalPeerID returns this swarm's PeerId as a string.
func (s *Swarm) LocalPeerID() string {
	return s.host.ID().String()
}

// ListenAddrs returns the multiaddrs this host is currently listening on,
// each suffixed with the local peer id.
func (s *Swarm) ListenAddrs() []string {
	var out []string
	for _, a := range s.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, s.host.ID()))
	}
	return out
}

// ListenOn adds an additional listen address at runtime.
func (s *Swarm) ListenOn(addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("swarm: parse listen addr: %w", err)
	}
	return s.host.Network().Listen(ma)
}

// Dial connects to a peer described by a full multiaddr (including /p2p/<id>).
func (s *Swarm) Dial(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("swarm: parse peer address: %w", err)
	}
	return s.host.Connect(ctx, *info)
}

// AddKademliaAddress records addr as a known location for peerID without
// dialing it.
func (s *Swarm) AddKademliaAddress(peerID peer.ID, addr multiaddr.Multiaddr) {
	s.host.Peerstore().AddAddr(peerID, addr, time.Hour)
}

// Bootstrap runs the DHT's self-bootstrap routine.
func (s *Swarm) Bootstrap(ctx context.Context) error {
	return s.dht.Bootstrap(ctx)
}

// Disconnect closes all connections to peerID.
func (s *Swarm) Disconnect(peerID peer.ID) error {
	return s.host.Network().ClosePeer(peerID)
}

// Close tears down every sub-behaviour and the host itself.
func (s *Swarm) Close() error {
	s.cancel()
	s.mu.Lock()
	for _, sub := range s.subs {
		sub.Cancel()
	}
	for _, t := range s.topics {
		t.Close()
	}
	s.mu.Unlock()
	if s.dht != nil {
		s.dht.Close()
	}
	return s.host.Close()
}

// permissiveValidator accepts any record. Application-level correctness
// (e.g. trusting a "consensus_state" record's author) is the caller's
// concern, not the DHT's; the mesh uses Kademlia purely as a coordination
// bulletin board.
type permissiveValidator struct{}

func (permissiveValidator) Validate(string, []byte) error { return nil }

func (permissiveValidator) Select(_ string, values [][]byte) (int, error) {
	return 0, nil
}

type connNotifiee struct {
	swarm *Swarm
}

func (c *connNotifiee) Connected(_ network.Network, conn network.Conn) {
	c.swarm.emit(Event{Kind: EventConnectionEstablished, Peer: conn.RemotePeer()})
}

func (c *connNotifiee) Disconnected(net network.Network, conn network.Conn) {
	if len(net.ConnsToPeer(conn.RemotePeer())) == 0 {
		c.swarm.emit(Event{Kind: EventConnectionClosed, Peer: conn.RemotePeer()})
	}
}

func (c *connNotifiee) Listen(_ network.Network, addr multiaddr.Multiaddr) {
	c.swarm.emit(Event{Kind: EventNewListenAddr, Addr: addr})
}

func (c *connNotifiee) ListenClose(network.Network, multiaddr.Multiaddr) {}

type discoveryNotifee struct {
	swarm *Swarm
}

func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.swarm.host.ID() {
		return
	}
	d.swarm.emit(Event{Kind: EventDiscoveredPeer, Peer: pi.ID, Addrs: pi.Addrs})

	ctx, cancel := context.WithTimeout(d.swarm.ctx, 5*time.Second)
	defer cancel()
	_ = d.swarm.host.Connect(ctx, pi)
}
