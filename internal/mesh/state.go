// Package mesh implements the mesh-wide peer directory: a per-peer
// Last-Writer-Wins CRDT register persisted in an embedded key-value store.
package mesh

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	mlog "github.com/plexus-mesh/plexus/internal/log"
	"github.com/plexus-mesh/plexus/internal/meshproto"
	"github.com/plexus-mesh/plexus/internal/storage"
)

// ErrMeshStateOpen is returned when the backing store cannot be opened.
var ErrMeshStateOpen = errors.New("mesh: failed to open mesh state store")

// State is the durable per-peer LWW register described by the mesh CRDT:
// for any peer_id, the stored Heartbeat always has the maximum timestamp of
// all Heartbeats ever observed for that peer_id by this node.
type State struct {
	db storage.Transactor
	// backing is also kept as a plain DB so Close/ForEach-style access does
	// not need a second type assertion everywhere.
	backing storage.DB
}

// Open opens (or creates) a MeshState backed by a Badger database at path.
func Open(path string) (*State, error) {
	db, err := storage.NewBadger(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMeshStateOpen, err)
	}
	return newState(db), nil
}

// OpenMemory creates a MeshState backed by an in-memory store, for tests and
// single-process use.
func OpenMemory() *State {
	return newState(storage.NewMemory())
}

func newState(db storage.DB) *State {
	txn, ok := db.(storage.Transactor)
	if !ok {
		// Every storage.DB this package is handed (Badger, Memory) also
		// implements Transactor; this branch only guards against a future
		// backing store that forgets to.
		panic("mesh: backing store does not support atomic compare-and-update")
	}
	return &State{db: txn, backing: db}
}

func key(peerID string) []byte {
	return []byte("hb/" + peerID)
}

// Update upserts hb under hb.PeerID. If a stored Heartbeat for the same
// peer already has timestamp >= hb.Timestamp, the update is a no-op
// (incumbent wins ties). The comparison-and-swap is atomic under concurrent
// callers via the backing store's transaction.
func (s *State) Update(hb meshproto.Heartbeat) error {
	encoded, err := cbor.Marshal(hb)
	if err != nil {
		return fmt.Errorf("mesh: encode heartbeat: %w", err)
	}

	condition := func(existing []byte, ok bool) bool {
		if !ok {
			return true
		}
		var cur meshproto.Heartbeat
		if err := cbor.Unmarshal(existing, &cur); err != nil {
			// A corrupt incumbent record must never block new updates; log
			// and let the new value win.
			mlog.Mesh.Warn().Str("peer_id", hb.PeerID).Err(err).Msg("skipping corrupt mesh-state record")
			return true
		}
		return hb.Timestamp > cur.Timestamp
	}

	_, err = s.db.CompareAndUpdate(key(hb.PeerID), condition, encoded)
	if err != nil {
		return fmt.Errorf("mesh: update %s: %w", hb.PeerID, err)
	}
	return nil
}

// Merge applies Update to every element of hbs. Order independent by LWW.
func (s *State) Merge(hbs []meshproto.Heartbeat) error {
	for _, hb := range hbs {
		if err := s.Update(hb); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current Heartbeat for peerID, if any.
func (s *State) Get(peerID string) (meshproto.Heartbeat, bool) {
	data, err := s.backing.Get(key(peerID))
	if err != nil {
		return meshproto.Heartbeat{}, false
	}
	var hb meshproto.Heartbeat
	if err := cbor.Unmarshal(data, &hb); err != nil {
		mlog.Mesh.Warn().Str("peer_id", peerID).Err(err).Msg("skipping corrupt mesh-state record")
		return meshproto.Heartbeat{}, false
	}
	return hb, true
}

// GetAll returns a snapshot of every currently stored Heartbeat. Order is
// unspecified. Corrupt records are skipped (logged, never surfaced) so one
// bad entry never blocks the rest of the directory.
func (s *State) GetAll() []meshproto.Heartbeat {
	var out []meshproto.Heartbeat
	_ = s.backing.ForEach([]byte("hb/"), func(k, v []byte) error {
		var hb meshproto.Heartbeat
		if err := cbor.Unmarshal(v, &hb); err != nil {
			mlog.Mesh.Warn().Bytes("key", k).Err(err).Msg("skipping corrupt mesh-state record")
			return nil
		}
		out = append(out, hb)
		return nil
	})
	return out
}

// Close flushes and closes the backing store.
func (s *State) Close() error {
	return s.backing.Close()
}
