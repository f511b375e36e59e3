// Package gatewaystate holds the per-shard authoritative state: the
// cached READY snapshot, the guild availability tracker, and the
// bounded broadcast of dispatchable events. One ShardState exists per
// shard for the lifetime of the process and is shared, read-only from
// the outside, across every ClientSession bound to that shard.
package gatewaystate

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/adred-codev/gatewaymux/internal/upstream"
)

// ShardState is the authoritative per-shard snapshot.
type ShardState struct {
	ID int

	readyMu   sync.Mutex
	readyData json.RawMessage
	readySet  bool
	readyCh   chan struct{}

	Guilds *GuildTracker
	Events *Broadcaster

	commands upstream.CommandSink
}

// NewShardState builds an empty shard state. eventsCapacity sizes the
// per-subscriber broadcast buffer (spec: "bounded, configurable
// capacity").
func NewShardState(id int, eventsCapacity int, commands upstream.CommandSink) *ShardState {
	return &ShardState{
		ID:       id,
		readyCh:  make(chan struct{}),
		Guilds:   NewGuildTracker(),
		Events:   NewBroadcaster(eventsCapacity),
		commands: commands,
	}
}

// SetReady stores data as the shard's READY payload iff this is the
// first call; every later call is a no-op. READY data is treated as
// timeless once captured.
func (s *ShardState) SetReady(data json.RawMessage) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.readySet {
		return
	}
	s.readyData = data
	s.readySet = true
	close(s.readyCh)
}

// WaitUntilReady suspends until the first READY has been stored, then
// returns the cached data. Once set, later callers return immediately.
func (s *ShardState) WaitUntilReady(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-s.readyCh:
		s.readyMu.Lock()
		data := s.readyData
		s.readyMu.Unlock()
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendCommand forwards an opaque client command to the shard's
// upstream collaborator.
func (s *ShardState) SendCommand(ctx context.Context, text string) error {
	return s.commands.Send(ctx, s.ID, text)
}
