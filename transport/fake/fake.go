// Package fake implements an in-memory bus that records every write.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/transport"
)

// Write is a single recorded write.
type Write struct {
	Addr byte
	Data []byte
}

// Bus is a fake bus. Writes are recorded rather than sent anywhere. Setting OpenErr or WriteErr
// makes the matching operation fail.
type Bus struct {
	mu        sync.Mutex
	logger    logging.Logger
	writes    []Write
	openCount int
	open      map[byte]bool

	OpenErr  error
	WriteErr error
}

// NewBus returns an empty fake bus. A nil logger disables logging of writes.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{logger: logger, open: make(map[byte]bool)}
}

// OpenHandle returns a recording handle for addr.
func (b *Bus) OpenHandle(ctx context.Context, addr byte) (transport.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	if b.open[addr] {
		return nil, errors.Errorf("address 0x%02X already has an open handle", addr)
	}
	b.open[addr] = true
	b.openCount++
	return &handle{bus: b, addr: addr}, nil
}

// Writes returns a copy of every write recorded so far.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	ret := make([]Write, len(b.writes))
	copy(ret, b.writes)
	return ret
}

// Written returns every byte written so far, across all handles, as one string.
func (b *Bus) Written() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []byte
	for _, w := range b.writes {
		out = append(out, w.Data...)
	}
	return string(out)
}

// OpenHandles returns the number of handles not yet closed.
func (b *Bus) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// OpenCount returns how many handles have ever been opened.
func (b *Bus) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openCount
}

// SetWriteErr changes the error returned by subsequent writes. Nil restores normal writes.
func (b *Bus) SetWriteErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.WriteErr = err
}

type handle struct {
	bus    *Bus
	addr   byte
	closed bool
}

func (h *handle) Write(ctx context.Context, tx []byte) error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	if h.closed {
		return errors.New("write on closed handle")
	}
	if h.bus.WriteErr != nil {
		return h.bus.WriteErr
	}
	data := make([]byte, len(tx))
	copy(data, tx)
	h.bus.writes = append(h.bus.writes, Write{Addr: h.addr, Data: data})
	if h.bus.logger != nil {
		h.bus.logger.CDebugw(ctx, "fake bus write", "addr", h.addr, "data", string(data))
	}
	return nil
}

func (h *handle) Close() error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	delete(h.bus.open, h.addr)
	return nil
}
