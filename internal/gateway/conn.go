package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// connState tracks the peer connection lifecycle:
// connecting -> open -> closing -> closed. A connection goes dead at most
// once; any error during open moves it straight to closing.
type connState int32

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerConn wraps one accepted duplex connection from the bot runtime. It is
// owned by the registry; callers only ever see it as a write handle for the
// duration of a single send.
type peerConn struct {
	id         uint64
	remoteAddr string
	ws         *websocket.Conn

	// gorilla permits a single concurrent writer; control frames are exempt.
	writeMu      sync.Mutex
	writeTimeout time.Duration

	lastActivity atomic.Int64 // unix nanos
	state        atomic.Int32

	// dead is closed exactly once when the connection leaves the open state.
	dead     chan struct{}
	shutOnce sync.Once
}

func newPeerConn(id uint64, ws *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *peerConn {
	c := &peerConn{
		id:           id,
		remoteAddr:   remoteAddr,
		ws:           ws,
		writeTimeout: writeTimeout,
		dead:         make(chan struct{}),
	}
	c.state.Store(int32(stateConnecting))
	c.touch()
	return c
}

func (c *peerConn) open() {
	c.state.CompareAndSwap(int32(stateConnecting), int32(stateOpen))
}

func (c *peerConn) live() bool {
	return connState(c.state.Load()) == stateOpen
}

// touch records inbound or pong activity for the heartbeat monitor.
func (c *peerConn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *peerConn) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// writeText sends one text frame. It refuses once the connection has left
// the open state so a caller racing a teardown fails instead of writing to
// a dying socket.
func (c *peerConn) writeText(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.live() {
		return ErrConnectionLost
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// ping sends a control frame; safe concurrently with writeText.
func (c *peerConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// shutdown transitions to closing/closed and closes the socket. Idempotent.
func (c *peerConn) shutdown() {
	c.shutOnce.Do(func() {
		c.state.Store(int32(stateClosing))
		close(c.dead)
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.state.Store(int32(stateClosed))
	})
}
