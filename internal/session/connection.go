// Package session implements the per-connection state machine: framing,
// authentication, ACK policy, store writes, and the one-shot command
// future used to correlate an outbound ServerCommand with its
// CommandReply (§4.3, §9).
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"fleetgate/internal/framer"
	"fleetgate/internal/registry"
	"fleetgate/internal/store"
	"fleetgate/internal/wire"
	"fleetgate/pkg/colors"
)

// Broadcaster is the narrow fan-out surface a Connection pushes
// position/alarm events to. Delivery must be best-effort and must never
// block ingestion (§4.9); internal/broadcast.Hub implements it.
type Broadcaster interface {
	PublishPosition(identity wire.DeviceIdentity, pos wire.Position)
	PublishAlarm(identity wire.DeviceIdentity, pos wire.Position, status wire.DeviceStatus)
}

const readChunkSize = 1024 // §4.3 back-pressure: bounded read chunk

// Connection is one live device socket. It is not safe for concurrent use
// except via the methods explicitly documented as such (SendCommand,
// Evict).
type Connection struct {
	conn     net.Conn
	peerAddr string
	framer   *framer.Framer
	registry *registry.Registry
	store    store.Port
	bcast    Broadcaster
	opts     wire.DecodeOptions

	writeMu sync.Mutex // guards the socket's write half

	mu            sync.Mutex
	authenticated bool
	deviceID      wire.DeviceIdentity
	deviceRowID   uint
	lastActivity  time.Time

	nextSerial uint16

	pendingMu sync.Mutex
	pending   *pendingCommand

	closeOnce   sync.Once
	terminated  chan struct{}
	terminateBy error
}

type pendingCommand struct {
	serverFlag uint32
	result     chan commandOutcome
}

type commandOutcome struct {
	content string
	err     error
}

// New builds a Connection around an accepted socket.
func New(conn net.Conn, reg *registry.Registry, st store.Port, bcast Broadcaster, opts wire.DecodeOptions) *Connection {
	return &Connection{
		conn:         conn,
		peerAddr:     conn.RemoteAddr().String(),
		framer:       framer.New(),
		registry:     reg,
		store:        st,
		bcast:        bcast,
		opts:         opts,
		lastActivity: time.Now(),
		terminated:   make(chan struct{}),
	}
}

// DeviceID returns the authenticated identity, or the zero identity if the
// connection has not logged in yet.
func (c *Connection) DeviceID() wire.DeviceIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// Authenticated reports whether Login has completed.
func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// LastActivity reports when a packet was last processed on this connection.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Serve runs the read loop until EOF, an IO error, eviction, or shutdown.
// It always returns (never panics on a closed socket) and cleans up its
// registry entry before returning.
func (c *Connection) Serve(ctx context.Context) error {
	colors.PrintConnection("→", "connection opened from %s", c.peerAddr)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.terminate(ErrShutdown)
		case <-stop:
		}
	}()
	defer close(stop)

	defer c.cleanup()

	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.terminated:
				return c.terminateBy
			default:
			}
			c.failPending(ErrIoError)
			colors.PrintWarning("connection from %s closed: %v", c.peerAddr, err)
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}

		for _, frame := range c.framer.Feed(buf[:n]) {
			c.handleFrame(frame)
		}
	}
}

func (c *Connection) handleFrame(frame []byte) {
	pkt, err := wire.Decode(frame, c.opts)
	if err != nil {
		if _, ok := err.(*wire.CrcMismatchError); ok {
			colors.PrintWarning("crc mismatch from %s on %v, processing anyway", c.peerAddr, pkt.Proto())
		} else {
			colors.PrintWarning("malformed frame from %s: %v", c.peerAddr, err)
			return
		}
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	switch p := pkt.(type) {
	case wire.LoginPacket:
		c.handleLogin(p)
	case wire.LocationPacket:
		c.handleAuthenticatedOrDrop(pkt, func() { c.handleLocation(p) })
	case wire.HeartbeatPacket:
		c.handleAuthenticatedOrDrop(pkt, func() { c.handleHeartbeat(p) })
	case wire.AlarmPacket:
		c.handleAuthenticatedOrDrop(pkt, func() { c.handleAlarm(p) })
	case wire.CommandReplyPacket:
		c.handleAuthenticatedOrDrop(pkt, func() { c.handleCommandReply(p) })
	case wire.UnknownPacket:
		colors.PrintWarning("unknown protocol 0x%02X from %s", byte(p.Proto()), c.peerAddr)
	}
}

func (c *Connection) handleAuthenticatedOrDrop(pkt wire.Packet, fn func()) {
	if !c.Authenticated() {
		colors.PrintWarning("dropping %v from unauthenticated %s", pkt.Proto(), c.peerAddr)
		return
	}
	fn()
}

func (c *Connection) handleLogin(p wire.LoginPacket) {
	ctx := context.Background()
	dev, err := c.store.UpsertOnLogin(ctx, p.Identity)
	if err == store.ErrDeviceNotProvisioned {
		colors.PrintWarning("rejecting login from unprovisioned device %s (%s)", p.Identity, c.peerAddr)
		c.terminate(fmt.Errorf("session: device not provisioned"))
		return
	}
	if err != nil {
		colors.PrintError("store failure on login for %s: %v", p.Identity, err)
	} else {
		c.mu.Lock()
		c.deviceRowID = dev.ID
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.authenticated = true
	c.deviceID = p.Identity
	c.mu.Unlock()

	c.registry.Register(p.Identity, c)
	colors.PrintSuccess("device %s authenticated from %s", p.Identity, c.peerAddr)

	c.ack(wire.ProtoLogin, p.SerialValue)
}

func (c *Connection) handleLocation(p wire.LocationPacket) {
	ctx := context.Background()
	id, rowID := c.identity()

	if err := c.store.TouchLocation(ctx, id, p.Position.Lat, p.Position.Lon, p.Position.Time); err != nil {
		colors.PrintError("store failure touching location for %s: %v", id, err)
	}
	if rowID != 0 {
		if _, err := c.store.InsertLocation(ctx, rowID, p.Position, false, 0); err != nil {
			colors.PrintError("store failure inserting location for %s: %v", id, err)
		}
	}
	if c.bcast != nil {
		c.bcast.PublishPosition(id, p.Position)
	}

	c.ack(wire.ProtoLocation, p.SerialValue)
}

func (c *Connection) handleHeartbeat(p wire.HeartbeatPacket) {
	ctx := context.Background()
	id, _ := c.identity()

	status := store.DeviceOnline
	if err := c.store.TouchHeartbeat(ctx, id, p.Status.BatteryPercent, int(p.Status.GSMBars), status); err != nil {
		colors.PrintError("store failure touching heartbeat for %s: %v", id, err)
	}

	c.ack(wire.ProtoHeartbeat, p.SerialValue)
}

func (c *Connection) handleAlarm(p wire.AlarmPacket) {
	ctx := context.Background()
	id, rowID := c.identity()

	if err := c.store.TouchLocation(ctx, id, p.Position.Lat, p.Position.Lon, p.Position.Time); err != nil {
		colors.PrintError("store failure touching location for %s: %v", id, err)
	}
	if rowID != 0 {
		if _, err := c.store.InsertLocation(ctx, rowID, p.Position, true, int(p.Status.Alarm)); err != nil {
			colors.PrintError("store failure inserting alarm location for %s: %v", id, err)
		}
	}
	if c.bcast != nil {
		c.bcast.PublishAlarm(id, p.Position, p.Status)
	}
	colors.PrintAlarm("device %s raised alarm kind=%d", id, p.Status.Alarm)

	c.ack(wire.ProtoAlarm, p.SerialValue)
}

func (c *Connection) handleCommandReply(p wire.CommandReplyPacket) {
	c.pendingMu.Lock()
	pending := c.pending
	if pending != nil && pending.serverFlag == p.ServerFlag {
		c.pending = nil
	} else {
		pending = nil
	}
	c.pendingMu.Unlock()

	if pending == nil {
		colors.PrintWarning("command reply from %s with no matching waiter (flag=%#x)", c.peerAddr, p.ServerFlag)
		return
	}
	pending.result <- commandOutcome{content: p.Content}
	// No ACK is emitted for CommandReply (§4.2, §8 scenario 5).
}

func (c *Connection) identity() (wire.DeviceIdentity, uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID, c.deviceRowID
}

func (c *Connection) ack(proto wire.ProtoKind, serial uint16) {
	frame := wire.EncodeAck(proto, serial)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		colors.PrintWarning("ack write failed for %s: %v", c.peerAddr, err)
	}
}

// SendCommand writes an outbound ServerCommand frame and waits for either a
// matching CommandReply or timeout. Only one command may be in flight per
// connection at a time (§5).
func (c *Connection) SendCommand(ctx context.Context, content string, timeout time.Duration) (reply string, serverFlag uint32, err error) {
	c.mu.Lock()
	c.nextSerial++
	serial := c.nextSerial
	c.mu.Unlock()

	flag := uint32(0xA000) + uint32(serial)
	frame := wire.EncodeCommand(flag, content, serial)

	outcome := make(chan commandOutcome, 1)
	c.pendingMu.Lock()
	c.pending = &pendingCommand{serverFlag: flag, result: outcome}
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	_, writeErr := c.conn.Write(frame)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.clearPending()
		c.terminate(ErrIoError)
		return "", flag, fmt.Errorf("%w: %v", ErrIoError, writeErr)
	}

	colors.PrintControl("sent command %q (flag=%#x) to %s", content, flag, c.peerAddr)

	deadline := time.After(timeout)
	select {
	case res := <-outcome:
		if res.err != nil {
			return "", flag, res.err
		}
		return res.content, flag, nil
	case <-deadline:
		c.clearPending()
		return "", flag, ErrCommandTimeout
	case <-ctx.Done():
		c.clearPending()
		return "", flag, ctx.Err()
	}
}

func (c *Connection) clearPending() {
	c.pendingMu.Lock()
	c.pending = nil
	c.pendingMu.Unlock()
}

func (c *Connection) failPending(reason error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	if pending != nil {
		pending.result <- commandOutcome{err: reason}
	}
}

// Evict implements registry.Conn: it is called by the registry when a new
// login for the same identity displaces this connection.
func (c *Connection) Evict() {
	c.terminate(ErrSuperseded)
}

// Shutdown terminates the connection as part of a graceful drain.
func (c *Connection) Shutdown() {
	c.terminate(ErrShutdown)
}

func (c *Connection) terminate(reason error) {
	c.closeOnce.Do(func() {
		c.terminateBy = reason
		close(c.terminated)
		c.failPending(reason)
		c.conn.Close()
	})
}

func (c *Connection) cleanup() {
	id, _ := c.identity()
	if c.Authenticated() {
		c.registry.Unregister(id, c)
	}
	colors.PrintConnection("✕", "connection from %s (%s) closed", c.peerAddr, id)
}
