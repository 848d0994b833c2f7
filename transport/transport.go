// Package transport defines the byte-oriented bus the motor controller is reached over.
package transport

import (
	"context"
)

// Bus represents a shareable bus with one or more addressable peers on it.
type Bus interface {
	// OpenHandle acquires the bus for the peer at addr and returns a handle that MUST be closed
	// when done. You cannot have two handles open for the same addr.
	OpenHandle(ctx context.Context, addr byte) (Handle, error)
}

// Handle is similar to an io handle bound to a single peer. It MUST be closed to release the bus.
type Handle interface {
	// Write sends tx to the peer, blocking until the bus reports completion.
	Write(ctx context.Context, tx []byte) error

	// Close releases the bus.
	Close() error
}
