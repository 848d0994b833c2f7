// Package serialbus offers a UART link to the controller, for boards that take the same
// single-byte commands over USB serial instead of I2C.
package serialbus

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.bug.st/serial"

	"go.viam.com/controlpi/transport"
)

// DefaultBaudRate matches the Arduino sketch.
const DefaultBaudRate = 9600

// ValidBaudRates are the baud rates the controller firmware can be flashed with.
var ValidBaudRates = []int{115200, 57600, 38400, 19200, 9600, 4800, 2400}

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, baudRate int) (io.WriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(devicePath, mode)
}

// Bus is a point-to-point serial line. The peer address given to OpenHandle is ignored since
// there is only ever one peer.
type Bus struct {
	path     string
	baudRate int

	mu    sync.Mutex
	inUse bool
}

// New returns a serial bus for the device at path.
func New(path string, baudRate int) (*Bus, error) {
	if path == "" {
		return nil, errors.New("serial path is required")
	}
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if !lo.Contains(ValidBaudRates, baudRate) {
		return nil, errors.Errorf("invalid baud rate %d, acceptable values are %v", baudRate, ValidBaudRates)
	}
	return &Bus{path: path, baudRate: baudRate}, nil
}

// OpenHandle opens the serial device.
func (b *Bus) OpenHandle(ctx context.Context, addr byte) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse {
		return nil, errors.Errorf("serial device %s already has an open handle", b.path)
	}
	port, err := Open(b.path, b.baudRate)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open serial device %s", b.path)
	}
	b.inUse = true
	return &handle{parent: b, port: port}, nil
}

type handle struct {
	parent *Bus
	port   io.WriteCloser

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
		return errors.Errorf("handle for serial device %s is closed", h.parent.path)
	}
	n, err := h.port.Write(tx)
	if err != nil {
		return errors.Wrapf(err, "write to serial device %s", h.parent.path)
	}
	if n != len(tx) {
		return errors.Errorf("not all bytes were written to serial device %s! Had %d, wrote %d", h.parent.path, len(tx), n)
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
	h.parent.mu.Lock()
	h.parent.inUse = false
	h.parent.mu.Unlock()
	return h.port.Close()
}
