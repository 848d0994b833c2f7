// Package inject provides bus and handle implementations whose behavior is injected per test.
package inject

import (
	"context"

	"go.viam.com/controlpi/transport"
)

// Bus is an injected transport.Bus.
type Bus struct {
	transport.Bus
	OpenHandleFunc func(ctx context.Context, addr byte) (transport.Handle, error)
}

// OpenHandle calls the injected OpenHandle or the real version.
func (b *Bus) OpenHandle(ctx context.Context, addr byte) (transport.Handle, error) {
	if b.OpenHandleFunc == nil {
		return b.Bus.OpenHandle(ctx, addr)
	}
	return b.OpenHandleFunc(ctx, addr)
}

// Handle is an injected transport.Handle.
type Handle struct {
	transport.Handle
	WriteFunc func(ctx context.Context, tx []byte) error
	CloseFunc func() error
}

// Write calls the injected Write or the real version.
func (h *Handle) Write(ctx context.Context, tx []byte) error {
	if h.WriteFunc == nil {
		return h.Handle.Write(ctx, tx)
	}
	return h.WriteFunc(ctx, tx)
}

// Close calls the injected Close or the real version.
func (h *Handle) Close() error {
	if h.CloseFunc == nil {
		return h.Handle.Close()
	}
	return h.CloseFunc()
}
