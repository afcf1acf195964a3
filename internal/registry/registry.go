// Package registry maps a device's identity to its one live connection.
// It holds only a lookup reference, never ownership: the connection's
// goroutine owns its own lifecycle, and eviction is a message (Evict),
// not a mutation performed on the connection from the outside.
package registry

import (
	"sync"

	"fleetgate/internal/wire"
)

// Conn is the subset of a session connection the registry needs to evict a
// predecessor. internal/session.Connection implements it.
type Conn interface {
	// Evict tells the connection it has been superseded by a newer login
	// for the same identity. Implementations must be safe to call exactly
	// once and must not block the caller for long.
	Evict()
}

// Registry is the process-wide device-identity → connection map.
type Registry struct {
	mu    sync.RWMutex
	byDev map[wire.DeviceIdentity]Conn
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byDev: make(map[wire.DeviceIdentity]Conn)}
}

// Register atomically swaps in conn as the live connection for id. Any
// connection it displaces is evicted.
func (r *Registry) Register(id wire.DeviceIdentity, conn Conn) {
	r.mu.Lock()
	prev := r.byDev[id]
	r.byDev[id] = conn
	r.mu.Unlock()

	if prev != nil && prev != conn {
		prev.Evict()
	}
}

// Unregister removes id's entry, but only if it still points at conn. This
// makes unregister idempotent and safe to call from a connection that may
// already have been superseded (its own removal would otherwise clobber
// the connection that replaced it).
func (r *Registry) Unregister(id wire.DeviceIdentity, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byDev[id]; ok && cur == conn {
		delete(r.byDev, id)
	}
}

// Lookup returns the live connection for id, if any.
func (r *Registry) Lookup(id wire.DeviceIdentity) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byDev[id]
	return conn, ok
}

// Len reports the number of registered devices, for diagnostics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDev)
}

// Identities returns a snapshot of every currently registered identity.
func (r *Registry) Identities() []wire.DeviceIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.DeviceIdentity, 0, len(r.byDev))
	for id := range r.byDev {
		out = append(out, id)
	}
	return out
}
