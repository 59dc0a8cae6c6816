package gateway

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/botlink/internal/wire"
)

// callResult is what lands in a pending call's delivery slot: a matched
// response or an abort error, never both.
type callResult struct {
	resp *wire.Response
	err  error
}

// pendingCall is one in-flight request awaiting its correlated response.
// The result channel has capacity 1 so the producer never blocks even if
// the caller already gave up.
type pendingCall struct {
	echo      string
	connID    uint64
	createdAt time.Time
	result    chan callResult
}

// pendingTable maps echo -> waiting caller. Entries are removed exactly
// once: on match, on caller timeout, or on abort when the owning connection
// dies. All removal happens under the table lock, so a late arrival for a
// removed echo is simply not found.
type pendingTable struct {
	mu          sync.Mutex
	calls       map[string]*pendingCall
	maxInFlight int

	seq  atomic.Uint64
	salt int64
}

func newPendingTable(maxInFlight int) *pendingTable {
	return &pendingTable{
		calls:       make(map[string]*pendingCall),
		maxInFlight: maxInFlight,
		salt:        time.Now().UnixNano(),
	}
}

// nextEcho yields a correlation token unique among pending entries: a
// monotonic counter plus a process-start salt. Collision, not spoofing, is
// the concern, so no randomness is needed.
func (t *pendingTable) nextEcho() string {
	return fmt.Sprintf("call.%d.%d", t.seq.Add(1), t.salt)
}

// register creates a pending entry bound to connID. It must happen before
// the request hits the wire so a fast response cannot race registration.
func (t *pendingTable) register(connID uint64) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxInFlight > 0 && len(t.calls) >= t.maxInFlight {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyInFlight, t.maxInFlight)
	}
	pc := &pendingCall{
		echo:      t.nextEcho(),
		connID:    connID,
		createdAt: time.Now(),
		result:    make(chan callResult, 1),
	}
	t.calls[pc.echo] = pc
	return pc, nil
}

// deliver hands a response to its waiting caller. The entry is deleted
// under the lock before the slot is filled, so delivery happens at most
// once; a duplicate or unmatched echo reports false and the frame is
// dropped by the caller.
func (t *pendingTable) deliver(resp *wire.Response) bool {
	t.mu.Lock()
	pc, ok := t.calls[resp.Echo]
	if ok {
		delete(t.calls, resp.Echo)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	pc.result <- callResult{resp: resp}
	return true
}

// remove drops an entry without delivering; used by the caller on timeout,
// cancellation, or write failure. Idempotent against deliver/abort.
func (t *pendingTable) remove(echo string) {
	t.mu.Lock()
	delete(t.calls, echo)
	t.mu.Unlock()
}

// abortConn fails every pending call bound to a dead connection with
// ErrConnectionLost, bounding caller latency to the heartbeat window
// instead of the full per-call timeout.
func (t *pendingTable) abortConn(connID uint64) int {
	t.mu.Lock()
	var aborted []*pendingCall
	for echo, pc := range t.calls {
		if pc.connID == connID {
			delete(t.calls, echo)
			aborted = append(aborted, pc)
		}
	}
	t.mu.Unlock()

	for _, pc := range aborted {
		pc.result <- callResult{err: ErrConnectionLost}
	}
	return len(aborted)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
