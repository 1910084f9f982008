// Package node implements NodeService, the actor that owns a Plexus node's
// identity, mesh-state directory, swarm, and inference engines, and
// translates external commands into mesh/engine actions.
package node

import (
	"context"
	"fmt"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/plexus-mesh/plexus/config"
	"github.com/plexus-mesh/plexus/internal/chathistory"
	"github.com/plexus-mesh/plexus/internal/engine"
	"github.com/plexus-mesh/plexus/internal/identity"
	mlog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/mesh"
	"github.com/plexus-mesh/plexus/internal/meshproto"
	"github.com/plexus-mesh/plexus/internal/registry"
	"github.com/plexus-mesh/plexus/internal/swarm"
)

// heartbeatInterval is how often NodeService refreshes and gossips its own
// Heartbeat.
const heartbeatInterval = 10 * time.Second

// chatHistoryCapacity bounds the per-node conversational ring buffer.
const chatHistoryCapacity = 50

// Service is the NodeService actor: it owns identity, mesh state, the
// swarm, and the inference engines, and is the sole mutator of swarm state.
type Service struct {
	cfg *config.Config

	identity *identity.Keypair
	mesh     *mesh.State
	swarm    *swarm.Swarm
	engines  *engine.Set
	history  *chathistory.History

	commands <-chan NodeCommand

	systemPrompt string

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Service: it loads or generates the node identity, opens
// mesh state, builds the swarm, constructs engines (unloaded), subscribes
// to the heartbeat topic, and publishes an initial Heartbeat.
//
// A nil ctx is not accepted; it governs the Service's entire lifetime and
// is the parent of the context passed to Run.
func New(ctx context.Context, cfg *config.Config, commands <-chan NodeCommand) (*Service, error) {
	return newWithRegistry(ctx, cfg, commands, registry.NewHTTPClient(cfg.Engine.ModelRegistryURL, cfg.DataDir))
}

// newWithRegistry is New with an injectable model registry client, so tests
// can run engines against a StaticClient instead of a real model host.
func newWithRegistry(ctx context.Context, cfg *config.Config, commands <-chan NodeCommand, reg registry.Client) (*Service, error) {
	kp, err := identity.LoadOrGenerate(cfg.IdentityPath())
	if err != nil {
		return nil, fmt.Errorf("node: load identity: %w", err)
	}

	meshState, err := openMeshState(cfg)
	if err != nil {
		return nil, err
	}

	hostKey, err := libp2pcrypto.UnmarshalEd25519PrivateKey(kp.SigningKey().Serialize())
	if err != nil {
		meshState.Close()
		return nil, fmt.Errorf("node: derive swarm identity: %w", err)
	}

	sw, err := swarm.New(ctx, hostKey, swarm.Config{
		ListenAddrs:    cfg.P2P.ListenAddrs,
		BootstrapPeers: cfg.P2P.BootstrapPeers,
		NoDiscover:     cfg.P2P.NoDiscover,
		DHTServer:      cfg.P2P.DHTServer,
		NetworkID:      cfg.P2P.NetworkID,
	})
	if err != nil {
		meshState.Close()
		return nil, fmt.Errorf("node: build swarm: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)

	s := &Service{
		cfg:      cfg,
		identity: kp,
		mesh:     meshState,
		swarm:    sw,
		engines:  engine.NewSet(cfg.Engine, reg),
		history:  chathistory.New(chatHistoryCapacity),
		commands: commands,
		ctx:      sctx,
		cancel:   cancel,
	}

	if err := sw.Subscribe(meshproto.HeartbeatTopic); err != nil {
		s.Close()
		return nil, fmt.Errorf("node: subscribe heartbeat topic: %w", err)
	}

	if err := s.publishHeartbeat(); err != nil {
		mlog.Node.Warn().Err(err).Msg("failed to publish initial heartbeat")
	}

	return s, nil
}

func openMeshState(cfg *config.Config) (*mesh.State, error) {
	if cfg.DataDir == "" {
		return mesh.OpenMemory(), nil
	}
	st, err := mesh.Open(cfg.MeshDBDir())
	if err != nil {
		return nil, fmt.Errorf("node: open mesh state: %w", err)
	}
	return st, nil
}

func (s *Service) publishHeartbeat() error {
	caps := probeCapabilities(s.cfg.Engine.Model, s.cfg.Engine.Device, s.engines.TextGen.ModelLoaded())
	hb := meshproto.Heartbeat{
		PeerID:       s.swarm.LocalPeerID(),
		Model:        s.cfg.Engine.Model,
		Capabilities: caps,
		Timestamp:    uint64(time.Now().Unix()),
	}

	signed, err := meshproto.SignHeartbeat(hb, s.identity.SigningKey())
	if err != nil {
		return fmt.Errorf("node: sign heartbeat: %w", err)
	}

	if err := s.mesh.Update(hb); err != nil {
		return fmt.Errorf("node: update local mesh state: %w", err)
	}

	data, err := meshproto.EncodeSignedHeartbeat(signed)
	if err != nil {
		return fmt.Errorf("node: encode heartbeat: %w", err)
	}

	return s.swarm.Publish(s.ctx, meshproto.HeartbeatTopic, data)
}

// Close releases every resource the Service owns. Callers should prefer
// sending a Shutdown command through the normal command channel when the
// run loop is active; Close is also safe to call standalone, e.g. after a
// failed New or after Run returns.
func (s *Service) Close() error {
	s.cancel()
	if s.mesh != nil {
		s.mesh.Close()
	}
	if s.swarm != nil {
		return s.swarm.Close()
	}
	return nil
}
