package swarm

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	mlog "github.com/plexus-mesh/plexus/internal/log"
)

// Publish sends data on topic, joining it first if necessary.
func (s *Swarm) Publish(ctx context.Context, topic string, data []byte) error {
	t, err := s.joinTopic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// Subscribe joins topic (if not already joined) and starts forwarding every
// received message as a GossipMessage event. Subscribing twice to the same
// topic is a no-op.
func (s *Swarm) Subscribe(topic string) error {
	s.mu.Lock()
	if _, ok := s.subs[topic]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	t, err := s.joinTopic(topic)
	if err != nil {
		return err
	}

	sub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("swarm: subscribe %s: %w", topic, err)
	}

	s.mu.Lock()
	s.subs[topic] = sub
	s.mu.Unlock()

	go s.gossipReadLoop(topic, sub)
	return nil
}

func (s *Swarm) joinTopic(topic string) (*pubsub.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.topics[topic]; ok {
		return t, nil
	}
	t, err := s.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("swarm: join topic %s: %w", topic, err)
	}
	s.topics[topic] = t
	return t, nil
}

func (s *Swarm) gossipReadLoop(topic string, sub *pubsub.Subscription) {
	defer func() {
		if r := recover(); r != nil {
			mlog.Swarm.Error().Interface("panic", r).Str("topic", topic).Msg("gossip read loop panicked")
		}
	}()
	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			return // context cancelled or subscription closed
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}
		s.emit(Event{
			Kind:  EventGossipMessage,
			Topic: topic,
			Peer:  msg.ReceivedFrom,
			Data:  msg.Data,
		})
	}
}
