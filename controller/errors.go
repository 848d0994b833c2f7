package controller

import (
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/controlpi/protocol"
)

// Connection failures. Both are terminal for the client; construct a new one to try again.
var (
	// ErrTransportUnavailable means the bus or the addressed peer could not be acquired.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrProbeFailed means the bus was acquired but the liveness probe could not be written.
	ErrProbeFailed = errors.New("liveness probe failed")
	// ErrReopen means Open was called on a client that has already been opened or closed.
	ErrReopen = errors.New("client cannot be reopened, construct a new one")
)

// Send failures.
var (
	// ErrNotConnected means the client is not in the connected state.
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidArgument means the command was rejected before touching the transport.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransport means the write to the peer failed.
	ErrTransport = errors.New("transport error")
)

// ConnectError is returned by Open. Kind is ErrTransportUnavailable, ErrProbeFailed or ErrReopen.
type ConnectError struct {
	Kind error
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap lets errors.Is match both the kind and the underlying cause.
func (e *ConnectError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SendError is returned by every send. Kind is ErrNotConnected, ErrInvalidArgument or
// ErrTransport.
type SendError struct {
	Command protocol.Command
	Kind    error
	Err     error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot send %v: %s", e.Command, e.Kind)
	}
	return fmt.Sprintf("cannot send %v: %s: %s", e.Command, e.Kind, e.Err)
}

// Unwrap lets errors.Is match both the kind and the underlying cause.
func (e *SendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
