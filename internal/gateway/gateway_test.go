package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/botlink/internal/testutil/testlog"
	"github.com/danmuck/botlink/internal/testutil/tlstest"
	"github.com/danmuck/botlink/internal/wire"
)

func startGateway(t *testing.T, mutate func(*Config)) *Gateway {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}
	gw, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if err := gw.Start(); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

// dialPeer connects a fake bot runtime to the gateway and waits until the
// gateway reports it live.
func dialPeer(t *testing.T, gw *Gateway) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+gw.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial peer: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	waitHealthy(t, gw)
	return ws
}

func waitHealthy(t *testing.T, gw *Gateway) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !gw.IsHealthy() {
		if time.Now().After(deadline) {
			t.Fatalf("gateway never saw the peer connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readRequest(t *testing.T, ws *websocket.Conn) wire.Request {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	var req wire.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func sendResponse(t *testing.T, ws *websocket.Conn, echo, status string, retcode int, data string) {
	t.Helper()
	frame := fmt.Sprintf(`{"status":%q,"retcode":%d,"data":%s,"message":"","echo":%q}`,
		status, retcode, data, echo)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("peer write: %v", err)
	}
}

func TestCallNoPeerFailsFast(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)

	start := time.Now()
	_, err := gw.Call(context.Background(), "get_login_info", nil, 5*time.Second)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("no-peer call must fail immediately, took %s", elapsed)
	}
}

func TestCallRoundTrip(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	ws := dialPeer(t, gw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := readRequest(t, ws)
		if req.Action != "get_login_info" {
			t.Errorf("unexpected action %q", req.Action)
		}
		if req.Echo == "" {
			t.Errorf("request carries no echo")
		}
		sendResponse(t, ws, req.Echo, wire.StatusOK, 0, `{"user_id":10001,"nickname":"bot"}`)
	}()

	resp, err := gw.Call(context.Background(), "get_login_info", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !resp.Ok() {
		t.Fatalf("expected ok response, got %+v", resp)
	}
	var info struct {
		UserID int64 `json:"user_id"`
	}
	if err := resp.DecodeData(&info); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if info.UserID != 10001 {
		t.Fatalf("unexpected payload: %+v", info)
	}
	<-done
	if n := gw.pending.len(); n != 0 {
		t.Fatalf("pending table should be empty, len=%d", n)
	}
}

func TestOutOfOrderResponsesMatchCallers(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	ws := dialPeer(t, gw)

	type callResult struct {
		action string
		got    string
		err    error
	}
	results := make(chan callResult, 2)
	call := func(action string) {
		resp, err := gw.Call(context.Background(), action, nil, 2*time.Second)
		if err != nil {
			results <- callResult{action: action, err: err}
			return
		}
		var data struct {
			Action string `json:"action"`
		}
		if err := resp.DecodeData(&data); err != nil {
			results <- callResult{action: action, err: err}
			return
		}
		results <- callResult{action: action, got: data.Action}
	}
	go call("get_group_msg_history")
	go call("get_friend_msg_history")

	// Answer in reverse arrival order; correlation must still route each
	// response to the caller that issued it.
	first := readRequest(t, ws)
	second := readRequest(t, ws)
	sendResponse(t, ws, second.Echo, wire.StatusOK, 0,
		fmt.Sprintf(`{"action":%q}`, second.Action))
	sendResponse(t, ws, first.Echo, wire.StatusOK, 0,
		fmt.Sprintf(`{"action":%q}`, first.Action))

	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("call %s: %v", res.action, res.err)
		}
		if res.got != res.action {
			t.Fatalf("caller for %s received response for %s", res.action, res.got)
		}
	}
}

func TestSilentPeerDeclaredDead(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		cfg.PingInterval = 50 * time.Millisecond
		cfg.DeadAfter = 150 * time.Millisecond
	})
	ws := dialPeer(t, gw)

	// Suppress the dialer's automatic pong reply so the peer looks hung
	// while still draining its read side.
	ws.SetPingHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	_, err := gw.Call(context.Background(), "get_login_info", nil, 5*time.Second)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("dead connection must abort the call inside the heartbeat window, took %s", elapsed)
	}

	if gw.IsHealthy() {
		t.Fatalf("dead peer must drop the gateway to unhealthy")
	}
	if _, err := gw.Call(context.Background(), "get_login_info", nil, time.Second); !errors.Is(err, ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable after teardown, got %v", err)
	}
}

func TestDuplicateResponseIgnored(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	ws := dialPeer(t, gw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := readRequest(t, ws)
		sendResponse(t, ws, req.Echo, wire.StatusOK, 0, `{"n":1}`)
		sendResponse(t, ws, req.Echo, wire.StatusOK, 0, `{"n":2}`)
	}()

	resp, err := gw.Call(context.Background(), "get_status", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var data struct {
		N int `json:"n"`
	}
	if err := resp.DecodeData(&data); err != nil || data.N != 1 {
		t.Fatalf("expected first response to win, got %+v err=%v", data, err)
	}
	<-done

	// The duplicate must not poison the connection.
	go func() {
		req := readRequest(t, ws)
		sendResponse(t, ws, req.Echo, wire.StatusOK, 0, `{}`)
	}()
	if _, err := gw.Call(context.Background(), "get_status", nil, 2*time.Second); err != nil {
		t.Fatalf("call after duplicate: %v", err)
	}
}

func TestUnmatchedAndMalformedFramesAreAbsorbed(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	ws := dialPeer(t, gw)

	sendResponse(t, ws, "call.9999.1", wire.StatusOK, 0, `{}`)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"status":`)); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	go func() {
		req := readRequest(t, ws)
		sendResponse(t, ws, req.Echo, wire.StatusOK, 0, `{}`)
	}()
	if _, err := gw.Call(context.Background(), "get_status", nil, 2*time.Second); err != nil {
		t.Fatalf("call after junk frames: %v", err)
	}
	if !gw.IsHealthy() {
		t.Fatalf("junk frames must not tear the connection down")
	}
}

func TestHeartbeatFilteredEventsDelivered(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	ws := dialPeer(t, gw)

	hb := `{"post_type":"meta_event","meta_event_type":"heartbeat","interval":5000}`
	msg := `{"post_type":"message","message_type":"group","raw_message":"hi"}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(hb)); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case ev := <-gw.Events():
		if ev.PostType != "message" {
			t.Fatalf("heartbeat leaked onto the event channel: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message event never delivered")
	}
	select {
	case ev := <-gw.Events():
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventOverflowDropsAndCounts(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		cfg.EventBuffer = 1
	})
	ws := dialPeer(t, gw)

	// Nobody drains Events(), so everything past the buffered frame must be
	// dropped and counted rather than stalling the read loop.
	msg := `{"post_type":"message","message_type":"group","raw_message":"spam"}`
	for i := 0; i < 5; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("peer write: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for gw.Stats().EventsDropped == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("overflowed events never counted as dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case ev := <-gw.Events():
		if ev.PostType != "message" {
			t.Fatalf("unexpected buffered event: %+v", ev)
		}
	default:
		t.Fatalf("the buffered event should still be deliverable")
	}
	if !gw.IsHealthy() {
		t.Fatalf("event overflow must not tear the connection down")
	}
}

func TestCallWriteFailureCleansPending(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		// An already-expired write deadline fails every request write while
		// leaving the read side of the connection intact.
		cfg.WriteTimeout = time.Nanosecond
	})
	dialPeer(t, gw)

	_, err := gw.Call(context.Background(), "get_status", nil, time.Second)
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if n := gw.pending.len(); n != 0 {
		t.Fatalf("failed write must remove its pending entry, len=%d", n)
	}
	if !IsTransient(err) {
		t.Fatalf("write failures are transport faults and must be retryable")
	}
}

func TestCallTimeoutWithLivePeer(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	ws := dialPeer(t, gw)

	// Peer accepts the request and then stays quiet.
	go func() { readRequest(t, ws) }()

	_, err := gw.Call(context.Background(), "get_login_info", nil, 100*time.Millisecond)
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("expected ErrCallTimeout, got %v", err)
	}
	if n := gw.pending.len(); n != 0 {
		t.Fatalf("timed-out entry must be removed, len=%d", n)
	}
	if !gw.IsHealthy() {
		t.Fatalf("a slow peer is not a dead peer")
	}
}

func TestCallContextCancellation(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	ws := dialPeer(t, gw)
	go func() { readRequest(t, ws) }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := gw.Call(ctx, "get_login_info", nil, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := gw.pending.len(); n != 0 {
		t.Fatalf("cancelled entry must be removed, len=%d", n)
	}
}

func TestCallSerializationError(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, nil)
	dialPeer(t, gw)

	_, err := gw.Call(context.Background(), "send_group_msg", map[string]any{"ch": make(chan int)}, time.Second)
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
	if n := gw.pending.len(); n != 0 {
		t.Fatalf("failed registration must be cleaned up, len=%d", n)
	}
}

func TestCallWithRetryTransient(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		cfg.RetryDelay = 20 * time.Millisecond
	})

	start := time.Now()
	_, err := gw.CallWithRetry(context.Background(), "get_login_info", nil, time.Second, 3)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable after retries, got %v", err)
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("three attempts imply two retry delays, elapsed %s", elapsed)
	}
}

func TestCallWithRetryDoesNotRetryApplicationFailure(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		cfg.RetryDelay = 10 * time.Millisecond
	})
	ws := dialPeer(t, gw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := readRequest(t, ws)
		sendResponse(t, ws, req.Echo, wire.StatusFailed, 1404, `null`)
	}()

	resp, err := gw.CallWithRetry(context.Background(), "get_group_msg_history", nil, time.Second, 3)
	if err != nil {
		t.Fatalf("application failure must surface as a response, got error %v", err)
	}
	if resp.Ok() || resp.Retcode != 1404 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	<-done

	// No second request may reach the peer.
	_ = ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatalf("failed response was retried")
	}
}

func TestCloseIsIdempotentAndFailsLaterCalls(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		cfg.ShutdownGrace = time.Second
	})
	dialPeer(t, gw)

	if err := gw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := gw.Call(context.Background(), "get_status", nil, time.Second); !errors.Is(err, ErrGatewayClosed) {
		t.Fatalf("expected ErrGatewayClosed, got %v", err)
	}
	if gw.IsHealthy() {
		t.Fatalf("closed gateway must report unhealthy")
	}
}

func TestCloseRacingUpgradeLeavesNoConnection(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		cfg.ShutdownGrace = time.Second
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ws, _, err := websocket.DefaultDialer.Dial("ws://"+gw.Addr()+"/ws", nil)
			if err != nil {
				return
			}
			_ = ws.Close()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := gw.Close(); err != nil {
		t.Fatalf("close during connect churn: %v", err)
	}
	close(stop)
	wg.Wait()

	gw.registry.mu.RLock()
	leaked := len(gw.registry.conns)
	gw.registry.mu.RUnlock()
	if leaked != 0 {
		t.Fatalf("%d connection(s) escaped the shutdown sweep", leaked)
	}
	if gw.IsHealthy() {
		t.Fatalf("closed gateway must report unhealthy")
	}
}

func TestTLSListenerServesPeer(t *testing.T) {
	testlog.Start(t)
	certPath, keyPath := tlstest.ServerCert(t, t.TempDir(), net.ParseIP("127.0.0.1"))
	gw := startGateway(t, func(cfg *Config) {
		cfg.TLS.Enabled = true
		cfg.TLS.CertFile = certPath
		cfg.TLS.KeyFile = keyPath
	})

	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{RootCAs: tlstest.TrustPool(t, certPath)},
	}
	ws, _, err := dialer.Dial("wss://"+gw.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial wss: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	waitHealthy(t, gw)

	go func() {
		req := readRequest(t, ws)
		sendResponse(t, ws, req.Echo, wire.StatusOK, 0, `{}`)
	}()
	if _, err := gw.Call(context.Background(), "get_status", nil, 2*time.Second); err != nil {
		t.Fatalf("call over tls: %v", err)
	}
}

func TestMaxInFlightRejectsExcessCalls(t *testing.T) {
	testlog.Start(t)
	gw := startGateway(t, func(cfg *Config) {
		cfg.MaxInFlight = 1
	})
	ws := dialPeer(t, gw)

	first := make(chan error, 1)
	go func() {
		_, err := gw.Call(context.Background(), "get_login_info", nil, 2*time.Second)
		first <- err
	}()
	req := readRequest(t, ws)

	if _, err := gw.Call(context.Background(), "get_status", nil, time.Second); !errors.Is(err, ErrTooManyInFlight) {
		t.Fatalf("expected ErrTooManyInFlight, got %v", err)
	}

	sendResponse(t, ws, req.Echo, wire.StatusOK, 0, `{}`)
	if err := <-first; err != nil {
		t.Fatalf("first call: %v", err)
	}
}
