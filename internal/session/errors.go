package session

import "errors"

// Terminal/command error kinds (§7). These are returned from SendCommand's
// waiter and, for the terminal ones, from Serve.
var (
	ErrSuperseded     = errors.New("session: superseded by a newer login")
	ErrShutdown       = errors.New("session: gateway is shutting down")
	ErrIoError        = errors.New("session: io error")
	ErrCommandTimeout = errors.New("session: no reply within timeout")
)
