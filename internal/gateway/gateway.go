package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/botlink/internal/observability"
	"github.com/danmuck/botlink/internal/wire"
)

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	LiveConnections int           `json:"live_connections"`
	PendingCalls    int           `json:"pending_calls"`
	EventsDropped   uint64        `json:"events_dropped"`
	Uptime          time.Duration `json:"uptime"`
}

// Gateway accepts the reverse WebSocket connection from the bot runtime and
// exposes call/response semantics over it.
type Gateway struct {
	cfg    Config
	logger zerolog.Logger

	registry *Registry
	pending  *pendingTable

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	done     chan struct{}

	events        chan *wire.Event
	droppedEvents atomic.Uint64

	connSeq   atomic.Uint64
	startedAt time.Time
	closed    atomic.Bool

	// admitMu serializes connection admission against Close so an upgrade
	// in flight during shutdown cannot slip past RemoveAll or race wg.Wait.
	admitMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and builds a gateway. Start must be called before the
// peer can connect.
func New(cfg Config, logger zerolog.Logger) (*Gateway, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:     cfg,
		logger:  logger.With().Str("component", "gateway").Logger(),
		pending: newPendingTable(cfg.MaxInFlight),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			// The peer dials us back over a private channel; origin
			// checking does not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		events: make(chan *wire.Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	g.registry = NewRegistry(g.abortPending)
	return g, nil
}

// Start binds the listener and begins accepting peer connections on /ws and
// on the document root. A bind failure is the only fatal startup condition.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.cfg.ListenAddr, err)
	}
	g.listener = ln
	g.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleUpgrade)
	mux.HandleFunc("/", g.handleUpgrade)
	g.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: g.cfg.HandshakeTimeout,
	}

	go func() {
		defer close(g.done)
		var serveErr error
		if g.cfg.TLS.Enabled {
			serveErr = g.server.ServeTLS(ln, g.cfg.TLS.CertFile, g.cfg.TLS.KeyFile)
		} else {
			serveErr = g.server.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			g.logger.Error().Err(serveErr).Msg("gateway listener stopped")
		}
	}()

	g.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("tls", g.cfg.TLS.Enabled).
		Str("paths", "/ws, /").
		Msg("gateway listening for peer")
	return nil
}

// Addr reports the bound listener address; empty before Start.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if g.closed.Load() {
		http.Error(w, "gateway shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newPeerConn(g.connSeq.Add(1), ws, r.RemoteAddr, g.cfg.WriteTimeout)

	g.admitMu.Lock()
	if g.closed.Load() {
		g.admitMu.Unlock()
		_ = ws.Close()
		return
	}
	c.open()
	g.registry.Admit(c)
	g.wg.Add(2)
	g.admitMu.Unlock()

	observability.SetPeerConnections(g.registry.Len())
	go g.readLoop(c)
	go g.heartbeatLoop(c)

	g.logger.Info().
		Uint64("conn_id", c.id).
		Str("remote_addr", c.remoteAddr).
		Str("path", r.URL.Path).
		Msg("peer connected")
}

// readLoop is the single reader for one connection. It refreshes the read
// deadline on every inbound frame and pong, and tears the connection down
// on read error.
func (g *Gateway) readLoop(c *peerConn) {
	defer g.wg.Done()
	defer g.dropConn(c, "read loop exit")

	_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.DeadAfter))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return c.ws.SetReadDeadline(time.Now().Add(g.cfg.DeadAfter))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				g.logger.Warn().Uint64("conn_id", c.id).Err(err).Msg("peer read failed")
			} else {
				g.logger.Debug().Uint64("conn_id", c.id).Err(err).Msg("peer read ended")
			}
			return
		}
		c.touch()
		_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.DeadAfter))
		g.dispatch(c, payload)
	}
}

// dispatch is the single routing point for inbound frames: response vs
// event vs heartbeat vs malformed. A malformed frame never terminates the
// read loop.
func (g *Gateway) dispatch(c *peerConn, payload []byte) {
	fr, err := wire.Classify(payload)
	if err != nil {
		g.logger.Warn().
			Uint64("conn_id", c.id).
			Int("bytes", len(payload)).
			Err(err).
			Msg("dropping malformed frame")
		observability.RecordDroppedFrame("malformed")
		return
	}

	switch fr.Kind {
	case wire.KindHeartbeat:
		// Peer-level heartbeat: liveness signal only, never forwarded.
	case wire.KindResponse:
		if g.pending.deliver(fr.Response) {
			observability.SetPendingRequests(g.pending.len())
			return
		}
		// Late or duplicate response; drop without surfacing an error.
		g.logger.Debug().
			Uint64("conn_id", c.id).
			Str("echo", fr.Response.Echo).
			Str("status", fr.Response.Status).
			Msg("unmatched response dropped")
		observability.RecordDroppedFrame("unmatched")
	case wire.KindEvent:
		observability.RecordEvent(fr.Event.PostType)
		select {
		case g.events <- fr.Event:
		default:
			g.droppedEvents.Add(1)
			observability.RecordDroppedFrame("event_overflow")
		}
	}
}

// heartbeatLoop probes the connection on a fixed interval and declares it
// dead when no activity lands inside the window, aborting its pending
// calls instead of letting them ride out the full per-call timeout.
func (g *Gateway) heartbeatLoop(c *peerConn) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-c.dead:
			return
		case <-ticker.C:
			if idle := c.idleFor(); idle > g.cfg.DeadAfter {
				g.logger.Warn().
					Uint64("conn_id", c.id).
					Dur("idle", idle).
					Msg("peer silent past heartbeat window, declaring dead")
				g.dropConn(c, "heartbeat window elapsed")
				return
			}
			if err := c.ping(); err != nil {
				g.logger.Warn().Uint64("conn_id", c.id).Err(err).Msg("ping write failed")
				g.dropConn(c, "ping write failed")
				return
			}
		}
	}
}

// dropConn removes a connection from the registry; removal aborts its
// pending calls exactly once. Safe to call from multiple paths.
func (g *Gateway) dropConn(c *peerConn, reason string) {
	if g.registry.Remove(c.id) {
		g.logger.Info().
			Uint64("conn_id", c.id).
			Str("remote_addr", c.remoteAddr).
			Str("reason", reason).
			Msg("peer connection removed")
	}
	observability.SetPeerConnections(g.registry.Len())
}

// abortPending is the registry removal hook.
func (g *Gateway) abortPending(connID uint64) {
	if n := g.pending.abortConn(connID); n > 0 {
		g.logger.Warn().
			Uint64("conn_id", connID).
			Int("aborted", n).
			Msg("aborted pending calls for dead connection")
	}
	observability.SetPendingRequests(g.pending.len())
}

// Call dispatches one request to a live peer connection and blocks until
// the correlated response arrives, the timeout elapses, the owning
// connection dies, or ctx is cancelled. With no live connection it fails
// immediately; it never waits for one to appear.
func (g *Gateway) Call(ctx context.Context, action string, params any, timeout time.Duration) (*wire.Response, error) {
	start := time.Now()
	resp, err := g.call(ctx, action, params, timeout)
	observability.RecordCall(action, callOutcome(err), time.Since(start))
	return resp, err
}

func (g *Gateway) call(ctx context.Context, action string, params any, timeout time.Duration) (*wire.Response, error) {
	if g.closed.Load() {
		return nil, ErrGatewayClosed
	}
	if timeout <= 0 {
		timeout = g.cfg.CallTimeout
	}

	conn, ok := g.registry.SelectLive()
	if !ok {
		return nil, ErrConnectionUnavailable
	}

	// Register before writing so a fast response cannot beat registration.
	pc, err := g.pending.register(conn.id)
	if err != nil {
		return nil, err
	}
	observability.SetPendingRequests(g.pending.len())

	payload, err := json.Marshal(wire.Request{Action: action, Params: params, Echo: pc.echo})
	if err != nil {
		g.pending.remove(pc.echo)
		return nil, fmt.Errorf("%w: action=%s: %v", ErrSerialization, action, err)
	}

	if err := conn.writeText(payload); err != nil {
		g.pending.remove(pc.echo)
		g.logger.Warn().
			Uint64("conn_id", conn.id).
			Str("action", action).
			Str("echo", pc.echo).
			Err(err).
			Msg("request write failed")
		return nil, fmt.Errorf("%w: action=%s: %v", ErrWriteFailed, action, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pc.result:
		// The table entry was removed by deliver or abortConn.
		observability.SetPendingRequests(g.pending.len())
		if res.err != nil {
			return nil, res.err
		}
		return res.resp, nil
	case <-timer.C:
		g.pending.remove(pc.echo)
		observability.SetPendingRequests(g.pending.len())
		g.logger.Warn().
			Str("action", action).
			Str("echo", pc.echo).
			Dur("timeout", timeout).
			Msg("call timed out")
		return nil, fmt.Errorf("%w: action=%s after %s", ErrCallTimeout, action, timeout)
	case <-ctx.Done():
		g.pending.remove(pc.echo)
		observability.SetPendingRequests(g.pending.len())
		return nil, ctx.Err()
	case <-g.ctx.Done():
		g.pending.remove(pc.echo)
		observability.SetPendingRequests(g.pending.len())
		return nil, ErrGatewayClosed
	}
}

// CallWithRetry retries Call with a fixed inter-attempt delay, only for
// transient transport faults. Application-level failure responses come back
// as responses, not errors, so they are never retried here. maxAttempts <= 0
// falls back to the configured retry count.
func (g *Gateway) CallWithRetry(ctx context.Context, action string, params any, timeout time.Duration, maxAttempts int) (*wire.Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = g.cfg.RetryAttempts
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := g.Call(ctx, action, params, timeout)
		if err == nil {
			return resp, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		g.logger.Warn().
			Str("action", action).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("retry_delay", g.cfg.RetryDelay).
			Err(err).
			Msg("transient call failure, retrying")
		select {
		case <-time.After(g.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-g.ctx.Done():
			return nil, ErrGatewayClosed
		}
	}
	return nil, lastErr
}

// Events exposes unsolicited peer notifications. Heartbeat frames never
// appear here.
func (g *Gateway) Events() <-chan *wire.Event {
	return g.events
}

// IsHealthy reports whether at least one live peer connection exists.
func (g *Gateway) IsHealthy() bool {
	return g.registry.Len() > 0
}

func (g *Gateway) Stats() Stats {
	return Stats{
		LiveConnections: g.registry.Len(),
		PendingCalls:    g.pending.len(),
		EventsDropped:   g.droppedEvents.Load(),
		Uptime:          time.Since(g.startedAt),
	}
}

// Close shuts down the listener and all peer connections with a bounded
// grace period. Pending calls are aborted. Idempotent.
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Barrier: any upgrade that read closed=false finishes its Admit and
	// wg.Add before the sweep below starts.
	g.admitMu.Lock()
	g.admitMu.Unlock()

	g.logger.Info().Msg("gateway shutting down")
	g.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownGrace)
	defer cancel()

	var err error
	if g.server != nil {
		// Shutdown stops the listener; hijacked websocket connections are
		// closed through the registry below.
		err = g.server.Shutdown(ctx)
	}
	g.registry.RemoveAll()

	loopsDone := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
	case <-ctx.Done():
		g.logger.Warn().Msg("timed out waiting for connection loops")
	}

	if g.server != nil {
		select {
		case <-g.done:
		case <-ctx.Done():
		}
	}
	g.logger.Info().Msg("gateway closed")
	return err
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConnectionUnavailable):
		return "unavailable"
	case errors.Is(err, ErrCallTimeout):
		return "timeout"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ErrTooManyInFlight):
		return "in_flight_limit"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	case errors.Is(err, ErrGatewayClosed):
		return "closed"
	default:
		return "error"
	}
}
