package upstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NatsDriver bridges the core's EventSource/CommandSink contract onto
// NATS subjects, for deployments where the actual shard driver runs as
// a separate process and bridges a real gateway connection onto the
// bus. NatsDriver implements no gateway semantics of its own: it only
// moves bytes across the process boundary.
//
// Subjects, per shard ID n:
//
//	gatewaymux.shard.<n>.dispatch  -- upstream driver publishes raw events here
//	gatewaymux.shard.<n>.send      -- the multiplexer publishes outbound commands here
type NatsDriver struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[int]*nats.Subscription
	chs  map[int]chan RawEvent
}

// NewNatsDriver connects to the given NATS URL.
func NewNatsDriver(url string, logger zerolog.Logger) (*NatsDriver, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("nats error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	return &NatsDriver{
		conn:   conn,
		logger: logger.With().Str("component", "nats_driver").Logger(),
		subs:   make(map[int]*nats.Subscription),
		chs:    make(map[int]chan RawEvent),
	}, nil
}

func dispatchSubject(shardID int) string {
	return fmt.Sprintf("gatewaymux.shard.%d.dispatch", shardID)
}

func sendSubject(shardID int) string {
	return fmt.Sprintf("gatewaymux.shard.%d.send", shardID)
}

// Events implements EventSource. The first call for a given shard ID
// subscribes; subsequent calls return the same channel.
func (d *NatsDriver) Events(shardID int) <-chan RawEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.chs[shardID]; ok {
		return ch
	}

	ch := make(chan RawEvent, 256)
	d.chs[shardID] = ch

	sub, err := d.conn.Subscribe(dispatchSubject(shardID), func(msg *nats.Msg) {
		payload := make([]byte, len(msg.Data))
		copy(payload, msg.Data)
		select {
		case ch <- RawEvent{ShardID: shardID, Payload: payload}:
		default:
			d.logger.Warn().Int("shard", shardID).Msg("dropping raw upstream event, ingest channel full")
		}
	})
	if err != nil {
		d.logger.Error().Err(err).Int("shard", shardID).Msg("failed to subscribe to shard dispatch subject")
		close(ch)
		return ch
	}
	d.subs[shardID] = sub

	return ch
}

// Send implements CommandSink.
func (d *NatsDriver) Send(ctx context.Context, shardID int, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return d.conn.Publish(sendSubject(shardID), []byte(text))
}

// Close unsubscribes every shard subscription, closes the event
// channels, and closes the connection.
func (d *NatsDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for shardID, sub := range d.subs {
		if err := sub.Unsubscribe(); err != nil {
			d.logger.Warn().Err(err).Int("shard", shardID).Msg("failed to unsubscribe")
		}
	}
	for _, ch := range d.chs {
		close(ch)
	}
	d.conn.Close()
}
