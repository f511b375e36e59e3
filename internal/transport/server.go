// Package transport accepts inbound TCP connections, performs the
// WebSocket upgrade, and routes requests either to the metrics
// collaborator or to a freshly-built ClientSession.
package transport

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/adred-codev/gatewaymux/internal/config"
	"github.com/adred-codev/gatewaymux/internal/gatewaystate"
	"github.com/adred-codev/gatewaymux/internal/metrics"
	"github.com/adred-codev/gatewaymux/internal/ratelimit"
	"github.com/adred-codev/gatewaymux/internal/session"
)

// Server is the Acceptor/Router of spec.md §4.6.
type Server struct {
	cfg     *config.Config
	shards  map[int]*gatewaystate.ShardState
	metrics *metrics.Registry
	burst   *ratelimit.GuildBurstLimiter
	logger  zerolog.Logger

	httpServer *http.Server

	ctx context.Context
	wg  sync.WaitGroup
}

// NewServer builds a router bound to the given shard set.
func NewServer(
	cfg *config.Config,
	shards map[int]*gatewaystate.ShardState,
	m *metrics.Registry,
	burst *ratelimit.GuildBurstLimiter,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		cfg:     cfg,
		shards:  shards,
		metrics: m,
		burst:   burst,
		logger:  logger.With().Str("component", "transport").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleUpgrade)

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	return s
}

// ListenAndServe blocks serving HTTP until ctx is cancelled or the
// listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.ctx = ctx
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = s.httpServer.Close()
		s.wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	useZlib := strings.EqualFold(r.URL.Query().Get("compress"), "zlib-stream")

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sess := session.NewClientSession(conn, remoteAddr(r, conn), useZlib, s.cfg, s.shards, s.metrics, s.burst, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(s.ctx)
	}()
}

func remoteAddr(r *http.Request, conn net.Conn) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return conn.RemoteAddr().String()
}
