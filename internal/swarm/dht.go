package swarm

import (
	"context"
	"fmt"
)

// recordKey namespaces an application key under the DHT's registered
// validator namespace.
func recordKey(key string) string {
	return "/plexus/" + key
}

// PutRecord stores value under key in the Kademlia DHT at quorum One (the
// default dht.PutValue behavior: write to the closest peers and return).
func (s *Swarm) PutRecord(ctx context.Context, key string, value []byte) error {
	if err := s.dht.PutValue(ctx, recordKey(key), value); err != nil {
		return fmt.Errorf("swarm: put record %s: %w", key, err)
	}
	return nil
}

// GetRecord resolves key from the Kademlia DHT.
func (s *Swarm) GetRecord(ctx context.Context, key string) ([]byte, error) {
	value, err := s.dht.GetValue(ctx, recordKey(key))
	if err != nil {
		return nil, fmt.Errorf("swarm: get record %s: %w", key, err)
	}
	return value, nil
}
