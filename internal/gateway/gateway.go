// Package gateway implements the accept loop (component E) and the
// shutdown coordinator (component J): it owns the TCP listener and the set
// of live connections spawned from it.
package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"fleetgate/internal/registry"
	"fleetgate/internal/session"
	"fleetgate/internal/store"
	"fleetgate/internal/wire"
	"fleetgate/pkg/colors"
)

// Gateway accepts device connections and tracks them for graceful
// shutdown. Registry, store, and broadcaster are explicit collaborators
// passed at construction, never implicit singletons (§9).
type Gateway struct {
	listener net.Listener
	registry *registry.Registry
	store    store.Port
	bcast    session.Broadcaster
	opts     wire.DecodeOptions

	mu       sync.Mutex
	live     map[*session.Connection]struct{}
	draining bool
	connWG   sync.WaitGroup
}

// Listen binds addr (host:port) and returns a Gateway ready to Serve.
func Listen(addr string, reg *registry.Registry, st store.Port, bcast session.Broadcaster, opts wire.DecodeOptions) (*Gateway, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		listener: ln,
		registry: reg,
		store:    st,
		bcast:    bcast,
		opts:     opts,
		live:     make(map[*session.Connection]struct{}),
	}, nil
}

// Addr returns the bound listener address.
func (g *Gateway) Addr() net.Addr { return g.listener.Addr() }

// Serve runs the accept loop until the listener is closed by Shutdown. It
// returns nil on a clean shutdown-triggered close.
func (g *Gateway) Serve(ctx context.Context) error {
	colors.PrintServer("►", "TCP gateway listening on %s", g.listener.Addr())
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			g.mu.Lock()
			draining := g.draining
			g.mu.Unlock()
			if draining {
				return nil
			}
			return err
		}

		sc := session.New(conn, g.registry, g.store, g.bcast, g.opts)

		g.mu.Lock()
		g.live[sc] = struct{}{}
		g.mu.Unlock()

		g.connWG.Add(1)
		go func() {
			defer g.connWG.Done()
			sc.Serve(ctx)
			g.mu.Lock()
			delete(g.live, sc)
			g.mu.Unlock()
		}()
	}
}

// Shutdown stops accepting new connections, closes every live connection's
// socket immediately (resolving any pending command waiter with
// ErrShutdown), and waits up to grace for their handlers to return. If
// grace elapses first, it logs a warning and returns without waiting
// further (§4.10).
func (g *Gateway) Shutdown(grace time.Duration) {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	g.listener.Close()

	g.mu.Lock()
	conns := make([]*session.Connection, 0, len(g.live))
	for c := range g.live {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		g.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		colors.PrintSuccess("all connections drained")
	case <-time.After(grace):
		colors.PrintWarning("shutdown grace period elapsed with connections still open")
	}
}
