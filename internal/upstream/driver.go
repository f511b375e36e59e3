// Package upstream defines the boundary between the multiplexer core
// and the upstream shard driver. The driver itself -- whatever holds
// the real platform-facing gateway connection -- is out of scope; this
// package only fixes the interface the core depends on, plus one
// concrete transport binding (NATS) for deployments that bridge to an
// out-of-process driver over a message bus.
package upstream

import "context"

// RawEvent is one message delivered by the upstream shard driver: the
// original JSON bytes exactly as emitted by the platform, addressed to
// the shard it concerns.
type RawEvent struct {
	ShardID int
	Payload []byte
}

// EventSource streams the raw events for one shard. Implementations
// own the lifetime of the returned channel; it is closed when the
// source can no longer deliver events (e.g. on disconnect).
type EventSource interface {
	Events(shardID int) <-chan RawEvent
}

// CommandSink forwards an opaque client command upstream for one
// shard, verbatim.
type CommandSink interface {
	Send(ctx context.Context, shardID int, text string) error
}

// Driver is the full collaborator the multiplexer core needs per
// shard: a source of events and a sink for outbound commands.
type Driver interface {
	EventSource
	CommandSink
}
