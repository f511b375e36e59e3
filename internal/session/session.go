// Package session implements the per-client gateway protocol state
// machine: HELLO, IDENTIFY, heartbeating, upstream command forwarding,
// and the synthesized handshake plus renumbered event fan-out that
// lets many local clients share one upstream shard session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/gatewaymux/internal/config"
	"github.com/adred-codev/gatewaymux/internal/gatewaystate"
	"github.com/adred-codev/gatewaymux/internal/metrics"
	"github.com/adred-codev/gatewaymux/internal/protocol"
	"github.com/adred-codev/gatewaymux/internal/ratelimit"
)

// clientState is the ClientSession's position in its protocol state
// machine.
type clientState int32

const (
	stateAwaitingFrame clientState = iota
	stateIdentified
	stateClosing
)

// writerQueueCapacity bounds the outbound frame queue. The spec treats
// this queue as unbounded by design (a read-blocked client's socket
// write fails first and tears the client down); this cap is the
// disconnect-on-overflow policy the spec explicitly allows.
const writerQueueCapacity = 4096

// compressDecisionDeadline bounds how long the writer waits for
// IDENTIFY to resolve the compression decision before giving up and
// keeping the connection's initial (possibly uncompressed) mode.
const compressDecisionDeadline = 30 * time.Second

// ClientSession is one local client's connection lifetime.
type ClientSession struct {
	conn       net.Conn
	remoteAddr string

	cfg     *config.Config
	shards  map[int]*gatewaystate.ShardState
	metrics *metrics.Registry
	logger  zerolog.Logger
	burst   *ratelimit.GuildBurstLimiter

	state        int32 // clientState, accessed atomically
	boundShardID int32 // -1 until IDENTIFY succeeds, then the bound shard index

	initialUseZlib bool

	shardIndexCh     chan int
	compressDecision chan bool
	writerQueue      chan []byte
	seqCounter       int64

	cancel context.CancelFunc
}

// NewClientSession builds a session for an already-upgraded connection.
// initialUseZlib reflects the `?compress=zlib-stream` query hint.
func NewClientSession(
	conn net.Conn,
	remoteAddr string,
	initialUseZlib bool,
	cfg *config.Config,
	shards map[int]*gatewaystate.ShardState,
	m *metrics.Registry,
	burst *ratelimit.GuildBurstLimiter,
	logger zerolog.Logger,
) *ClientSession {
	return &ClientSession{
		conn:             conn,
		remoteAddr:       remoteAddr,
		cfg:              cfg,
		shards:           shards,
		metrics:          m,
		burst:            burst,
		logger:           logger.With().Str("remote_addr", remoteAddr).Logger(),
		initialUseZlib:   initialUseZlib,
		boundShardID:     -1,
		shardIndexCh:     make(chan int, 1),
		compressDecision: make(chan bool, 1),
		writerQueue:      make(chan []byte, writerQueueCapacity),
	}
}

func (c *ClientSession) loadState() clientState {
	return clientState(atomic.LoadInt32(&c.state))
}

func (c *ClientSession) storeState(s clientState) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Run drives the session until the connection closes. It blocks until
// the reader loop returns, at which point the writer and shard-forward
// tasks are cancelled and the connection is closed.
func (c *ClientSession) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()
	defer c.conn.Close()
	defer func() {
		if shardID, ok := c.boundShard(); ok && c.metrics != nil {
			c.metrics.ClientsConnected.WithLabelValues(strconv.Itoa(shardID)).Dec()
		}
	}()

	go c.writeLoop(ctx)
	go c.shardForwardLoop(ctx)
	// readLoop's socket read has no way to observe ctx cancellation on
	// its own; closing the connection is what unblocks it.
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	c.readLoop(ctx)
}

// enqueue appends a frame to the writer queue. If the queue is full
// the client is considered stuck and the session is torn down.
func (c *ClientSession) enqueue(frame []byte) {
	select {
	case c.writerQueue <- frame:
	default:
		c.logger.Warn().Msg("writer queue full, disconnecting client")
		c.close()
	}
}

func (c *ClientSession) close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// readLoop implements the reader task of spec.md §4.4.
func (c *ClientSession) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		if op == ws.OpClose {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		var envelope protocol.OpcodeOnly
		if err := json.Unmarshal(msg, &envelope); err != nil {
			// Malformed frame: ignore, stay connected.
			continue
		}

		switch envelope.Op {
		case protocol.OpHeartbeat:
			c.enqueue([]byte(protocol.HeartbeatACK()))

		case protocol.OpIdentify:
			c.handleIdentify(msg)

		case protocol.OpResume:
			c.enqueue([]byte(protocol.InvalidSession()))

		default:
			if c.loadState() == stateIdentified {
				c.forwardCommand(ctx, msg)
			} else {
				c.logger.Debug().Int("op", int(envelope.Op)).Msg("ignoring non-identify frame before IDENTIFY")
			}
		}
	}
}

func (c *ClientSession) handleIdentify(msg []byte) {
	if c.loadState() != stateAwaitingFrame {
		return
	}

	var frame protocol.IdentifyFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		c.violation("malformed_identify")
		return
	}

	shardID, shardCount := frame.D.Shard[0], frame.D.Shard[1]
	if shardCount != c.cfg.ShardCount {
		c.violation("bad_shard_count")
		return
	}
	if shardID < 0 || shardID >= shardCount {
		c.violation("bad_shard_id")
		return
	}
	if frame.D.Token != c.cfg.Token {
		c.violation("bad_token")
		return
	}

	if _, ok := c.shards[shardID]; !ok {
		c.violation("bad_shard_id")
		return
	}

	atomic.StoreInt32(&c.boundShardID, int32(shardID))
	if c.metrics != nil {
		c.metrics.ClientsConnected.WithLabelValues(strconv.Itoa(shardID)).Inc()
	}

	select {
	case c.compressDecision <- frame.D.Compress:
	default:
	}

	select {
	case c.shardIndexCh <- shardID:
	default:
	}

	c.storeState(stateIdentified)
	if c.metrics != nil {
		c.metrics.ClientsIdentifiedTotal.Inc()
	}
}

func (c *ClientSession) violation(reason string) {
	if c.metrics != nil {
		c.metrics.ProtocolViolations.WithLabelValues(reason).Inc()
	}
	c.logger.Warn().Str("reason", reason).Msg("client protocol violation, closing connection")
	c.close()
}

func (c *ClientSession) forwardCommand(ctx context.Context, msg []byte) {
	shardID, ok := c.boundShard()
	if !ok {
		return
	}
	shard := c.shards[shardID]
	if err := shard.SendCommand(ctx, string(msg)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to forward client command upstream")
	}
}

// boundShard returns the shard index once IDENTIFY has completed,
// without blocking.
func (c *ClientSession) boundShard() (int, bool) {
	id := atomic.LoadInt32(&c.boundShardID)
	if id < 0 {
		return 0, false
	}
	return int(id), true
}

// shardForwardLoop implements the shard-forward task of spec.md §4.4.
func (c *ClientSession) shardForwardLoop(ctx context.Context) {
	var shardID int
	select {
	case shardID = <-c.shardIndexCh:
	case <-ctx.Done():
		return
	}

	shard, ok := c.shards[shardID]
	if !ok {
		return
	}

	start := time.Now()
	readyData, err := shard.WaitUntilReady(ctx)
	if err != nil {
		return
	}
	if c.metrics != nil {
		c.metrics.ReadyWaitSeconds.Observe(time.Since(start).Seconds())
	}

	readyFrame, err := shard.Guilds.GetReadyPayload(readyData, &c.seqCounter)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to synthesize READY")
		return
	}
	c.enqueue(readyFrame)

	guildFrames, err := shard.Guilds.GetGuildPayloads(&c.seqCounter)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to synthesize guild burst")
		return
	}
	for _, frame := range guildFrames {
		if c.burst != nil {
			if err := c.burst.Wait(ctx); err != nil {
				return
			}
		}
		c.enqueue(frame)
	}

	events, unsubscribe := shard.Events.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload := ev.Payload
			if ev.SeqLoc != nil {
				seq := gatewaystate.NextSeq(&c.seqCounter)
				payload = protocol.RewriteSequence(payload, *ev.SeqLoc, seq)
			}
			c.enqueue(payload)
		}
	}
}

// writeLoop implements the writer task of spec.md §4.4 and §4.5. HELLO is
// written directly, under the connection's initial compression mode, before
// anything else touches the socket. The loop then blocks exclusively on the
// compression decision (or its deadline) so that no later frame — in
// particular the synthesized READY and guild burst the shard-forward task
// starts enqueuing the moment IDENTIFY succeeds — can race ahead of it and
// be written under the wrong mode, which would desync the client's
// persistent zlib-stream inflater.
func (c *ClientSession) writeLoop(ctx context.Context) {
	useZlib := c.initialUseZlib
	var compressor *Compressor
	if useZlib {
		var err error
		compressor, err = NewCompressor()
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to initialize compressor")
			c.close()
			return
		}
	}

	if err := c.writeFrame([]byte(protocol.Hello()), useZlib, compressor); err != nil {
		c.logger.Debug().Err(err).Msg("write failed, closing connection")
		c.close()
		return
	}

	select {
	case <-ctx.Done():
		return

	case upgrade := <-c.compressDecision:
		if upgrade && !useZlib {
			var err error
			compressor, err = NewCompressor()
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to initialize compressor on upgrade")
				c.close()
				return
			}
			useZlib = true
		}

	case <-time.After(compressDecisionDeadline):
		// No IDENTIFY arrived in time; keep the connection's initial mode.
	}

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-c.writerQueue:
			if !ok {
				return
			}
			if err := c.writeFrame(frame, useZlib, compressor); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing connection")
				c.close()
				return
			}
		}
	}
}

func (c *ClientSession) writeFrame(frame []byte, useZlib bool, compressor *Compressor) error {
	if useZlib && compressor != nil {
		compressed, err := compressor.Compress(frame)
		if err != nil {
			return fmt.Errorf("compress frame: %w", err)
		}
		if c.metrics != nil {
			c.metrics.CompressedFrames.Inc()
		}
		return wsutil.WriteServerMessage(c.conn, ws.OpBinary, compressed)
	}
	if c.metrics != nil {
		c.metrics.PlainFrames.Inc()
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, frame)
}
