package gateway

import "sync"

// Registry tracks live peer connections. It owns the connection set; the
// read loop, heartbeat monitor, and call facade all go through it.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*peerConn

	// onRemove fires after a connection is unregistered so its pending
	// calls can be aborted. Invoked outside the registry lock.
	onRemove func(connID uint64)
}

func NewRegistry(onRemove func(connID uint64)) *Registry {
	return &Registry{
		conns:    make(map[uint64]*peerConn),
		onRemove: onRemove,
	}
}

// Admit registers a newly accepted connection.
func (r *Registry) Admit(c *peerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

// SelectLive returns any currently live connection. There is no preference
// among multiple live connections; the peer population is expected to be a
// single process.
func (r *Registry) SelectLive() (*peerConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.live() {
			return c, true
		}
	}
	return nil, false
}

// Remove unregisters and tears down a connection. Idempotent; reports
// whether this call performed the removal. A removed connection is never
// returned by SelectLive again.
func (r *Registry) Remove(connID uint64) bool {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	c.shutdown()
	if r.onRemove != nil {
		r.onRemove(connID)
	}
	return true
}

// Len counts currently live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if c.live() {
			n++
		}
	}
	return n
}

// RemoveAll tears down every registered connection.
func (r *Registry) RemoveAll() {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Remove(id)
	}
}
