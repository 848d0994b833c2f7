// Package i2cbus offers the Linux I2C bus through periph.io.
package i2cbus

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"go.viam.com/controlpi/transport"
)

// DefaultBusID is the I2C bus the controller is wired to on the reference build.
const DefaultBusID = 3

var (
	hostOnce sync.Once
	errHost  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, errHost = host.Init()
	})
	return errHost
}

// Bus is an I2C bus identified by its /dev/i2c-N number.
type Bus struct {
	number int

	mu   sync.Mutex
	open map[byte]bool
}

// New returns the I2C bus with the given number. The bus itself is not opened until a handle is.
func New(number int) *Bus {
	return &Bus{number: number, open: make(map[byte]bool)}
}

// OpenHandle opens the bus and binds a device at addr.
func (b *Bus) OpenHandle(ctx context.Context, addr byte) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := initHost(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host drivers")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open[addr] {
		return nil, errors.Errorf("address 0x%02X on I2C bus %d already has an open handle", addr, b.number)
	}

	bus, err := i2creg.Open(strconv.Itoa(b.number))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open I2C bus %d", b.number)
	}
	b.open[addr] = true
	return &handle{
		parent: b,
		addr:   addr,
		bus:    bus,
		dev:    &i2c.Dev{Bus: bus, Addr: uint16(addr)},
	}, nil
}

func (b *Bus) release(addr byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.open, addr)
}

type handle struct {
	parent *Bus
	addr   byte
	bus    i2c.BusCloser
	dev    *i2c.Dev

	mu     sync.Mutex
	closed bool
}

func (h *handle) Write(ctx context.Context, tx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.Errorf("handle for address 0x%02X on I2C bus %d is closed", h.addr, h.parent.number)
	}
	if err := h.dev.Tx(tx, nil); err != nil {
		return errors.Wrapf(err, "write to I2C address 0x%02X on bus %d", h.addr, h.parent.number)
	}
	return nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.parent.release(h.addr)
	return h.bus.Close()
}
