package gatewaystate

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/adred-codev/gatewaymux/internal/metrics"
	"github.com/adred-codev/gatewaymux/internal/protocol"
	"github.com/adred-codev/gatewaymux/internal/upstream"
)

// EventIngest consumes the raw event stream for one shard, updates the
// shard's ShardState, and publishes dispatchable payloads onto its
// broadcast. One instance runs for the process lifetime per shard.
type EventIngest struct {
	shard   *ShardState
	source  upstream.EventSource
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewEventIngest builds an ingest task bound to shard.
func NewEventIngest(shard *ShardState, source upstream.EventSource, m *metrics.Registry, logger zerolog.Logger) *EventIngest {
	return &EventIngest{
		shard:   shard,
		source:  source,
		metrics: m,
		logger:  logger.With().Int("shard", shard.ID).Str("component", "event_ingest").Logger(),
	}
}

// Run consumes events until ctx is cancelled or the upstream source
// closes its channel.
func (e *EventIngest) Run(ctx context.Context) {
	events := e.source.Events(e.shard.ID)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				e.logger.Warn().Msg("upstream event source closed, ingest stopping")
				return
			}
			e.onRawDispatch(raw.Payload)
		}
	}
}

type dispatchEnvelope struct {
	Op protocol.Opcode `json:"op"`
	T  *string         `json:"t"`
	D  json.RawMessage `json:"d"`
}

type guildDelta struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// onRawDispatch implements spec.md §4.1.
func (e *EventIngest) onRawDispatch(payload []byte) {
	var env dispatchEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		// Malformed upstream payload: nothing the core can do with it.
		e.logger.Debug().Err(err).Msg("failed to parse upstream payload envelope")
		return
	}

	if env.Op != protocol.OpDispatch {
		return
	}

	eventName := ""
	if env.T != nil {
		eventName = *env.T
	}

	if eventName == protocol.EventReady {
		e.onReady(env.D)
		return
	}

	if eventName == protocol.EventResumed {
		return
	}

	switch eventName {
	case protocol.EventGuildCreate, protocol.EventGuildUpdate:
		e.applyGuildUpsert(env.D)
	case protocol.EventGuildDelete:
		e.applyGuildDelete(env.D)
	}

	loc, ok := protocol.FindSequenceLocation(payload)
	var seqLoc *protocol.SequenceLocation
	if ok {
		seqLoc = &loc
	}

	delivered, dropped := e.shard.Events.Publish(DispatchEvent{Payload: payload, SeqLoc: seqLoc})
	_ = delivered
	if e.metrics != nil {
		shardLabel := shardLabelFor(e.shard.ID)
		e.metrics.EventsBroadcast.WithLabelValues(shardLabel).Inc()
		if dropped > 0 {
			e.metrics.EventsDropped.WithLabelValues(shardLabel).Add(float64(dropped))
		}
	}
}

func (e *EventIngest) onReady(data json.RawMessage) {
	var d map[string]json.RawMessage
	if err := json.Unmarshal(data, &d); err != nil {
		e.logger.Error().Err(err).Msg("failed to parse READY data, shard will never become ready")
		return
	}
	d["guilds"] = json.RawMessage("[]")

	cleaned, err := json.Marshal(d)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to re-marshal cleaned READY data")
		return
	}

	e.shard.SetReady(cleaned)
}

func (e *EventIngest) applyGuildUpsert(data json.RawMessage) {
	var delta guildDelta
	if err := json.Unmarshal(data, &delta); err != nil || delta.ID == "" {
		e.logger.Debug().Err(err).Msg("failed to parse guild create/update payload")
		return
	}
	e.shard.Guilds.Upsert(delta.ID, data)
}

func (e *EventIngest) applyGuildDelete(data json.RawMessage) {
	var delta guildDelta
	if err := json.Unmarshal(data, &delta); err != nil || delta.ID == "" {
		e.logger.Debug().Err(err).Msg("failed to parse guild delete payload")
		return
	}
	if delta.Unavailable {
		e.shard.Guilds.MarkUnavailable(delta.ID, data)
		return
	}
	e.shard.Guilds.Remove(delta.ID)
}

func shardLabelFor(id int) string {
	return strconv.Itoa(id)
}
