// Package dispatch implements the command dispatcher (component G):
// the HTTP-facing entry point that looks up a device's live connection and
// relays a textual command to it, correlating the asynchronous reply.
package dispatch

import (
	"context"
	"time"

	"fleetgate/internal/registry"
	"fleetgate/internal/session"
	"fleetgate/internal/wire"
)

// Result is the outcome of a dispatched command, mirroring §4.7's
// {success, reply?, note?, server_flag?}.
type Result struct {
	Success    bool
	Reply      string
	Note       string
	ServerFlag uint32
	Connected  bool
}

// Dispatcher exposes send_command_to_device to HTTP callers.
type Dispatcher struct {
	registry       *registry.Registry
	defaultTimeout time.Duration
}

// New returns a Dispatcher backed by reg, using defaultTimeout when a
// caller doesn't specify one.
func New(reg *registry.Registry, defaultTimeout time.Duration) *Dispatcher {
	return &Dispatcher{registry: reg, defaultTimeout: defaultTimeout}
}

// Send looks up identity's live connection and relays content to it. A
// zero timeout uses the dispatcher's default. success is true once the
// frame has been written, regardless of whether a reply arrives within
// the timeout (§4.7).
func (d *Dispatcher) Send(ctx context.Context, identity wire.DeviceIdentity, content string, timeout time.Duration) Result {
	conn, ok := d.registry.Lookup(identity)
	if !ok {
		return Result{Success: false, Note: "not connected", Connected: false}
	}

	sender, ok := conn.(commandSender)
	if !ok {
		return Result{Success: false, Note: "connection does not support commands", Connected: true}
	}

	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	reply, flag, err := sender.SendCommand(ctx, content, timeout)
	switch err {
	case nil:
		return Result{Success: true, Reply: reply, ServerFlag: flag, Connected: true}
	case session.ErrCommandTimeout:
		return Result{Success: true, Note: "no reply within timeout", ServerFlag: flag, Connected: true}
	default:
		return Result{Success: false, Note: err.Error(), ServerFlag: flag, Connected: true}
	}
}

// commandSender is the subset of *session.Connection the dispatcher needs.
// Declaring it here (rather than depending on session.Connection directly)
// keeps the dispatcher decoupled from the connection's full surface.
type commandSender interface {
	SendCommand(ctx context.Context, content string, timeout time.Duration) (reply string, serverFlag uint32, err error)
}
