// Package controller implements the client for the single-byte motor controller protocol.
//
// A Client owns one transport handle and the session state of the robot on the other end of it.
// It is synchronous: every operation blocks for the write plus a fixed pacing delay, and a Client
// must only be used from one goroutine at a time.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/protocol"
	"go.viam.com/controlpi/transport"
)

const (
	// DefaultAddress is the controller's address on the bus.
	DefaultAddress = 0x08
	// DefaultSettleDelay is how long the controller needs after the liveness probe.
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultPacingDelay is how long the controller needs to process each command.
	DefaultPacingDelay = 200 * time.Millisecond
)

// State is where a Client is in its lifecycle: Unopened, then Connected, then Closed.
type State int

// The client states.
const (
	Unopened State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the state of the link to the robot.
type Session struct {
	ID           uuid.UUID
	State        State
	SystemActive bool
	// LastCommand is the last movement, stop or speed command that was written successfully. It
	// is only reported, never used to decide anything.
	LastCommand *protocol.Command
}

// Connected reports whether commands may be sent.
func (s Session) Connected() bool {
	return s.State == Connected
}

// Ack is the local confirmation that a write completed. The protocol has no reply channel, so it
// says nothing about whether the peer acted on the command.
type Ack struct {
	Byte    byte
	Command protocol.Command
}

// Config configures a Client.
type Config struct {
	// Address of the controller on the bus.
	Address byte
	// InitialActive is whether the robot's system is considered on before any toggle.
	InitialActive bool
	// SettleDelay follows the liveness probe in Open. Zero means DefaultSettleDelay.
	SettleDelay time.Duration
	// PacingDelay follows every completed write. Zero means DefaultPacingDelay.
	PacingDelay time.Duration
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithClock replaces the wall clock used for the settle and pacing delays.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// Client speaks the command protocol to one controller.
type Client struct {
	bus    transport.Bus
	conf   Config
	logger logging.Logger
	clock  clock.Clock

	opened  bool
	handle  transport.Handle
	session Session
}

// New returns an unopened client for the controller at conf.Address on bus.
func New(bus transport.Bus, conf Config, logger logging.Logger, opts ...Option) *Client {
	if conf.SettleDelay == 0 {
		conf.SettleDelay = DefaultSettleDelay
	}
	if conf.PacingDelay == 0 {
		conf.PacingDelay = DefaultPacingDelay
	}
	c := &Client{
		bus:    bus,
		conf:   conf,
		logger: logger,
		clock:  clock.New(),
		session: Session{
			ID:           uuid.New(),
			State:        Unopened,
			SystemActive: conf.InitialActive,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	logger.Infow("initializing motor controller", "address", fmt.Sprintf("0x%02X", conf.Address), "session", c.session.ID.String())
	return c
}

// Session returns a copy of the current session.
func (c *Client) Session() Session {
	s := c.session
	if s.LastCommand != nil {
		last := *s.LastCommand
		s.LastCommand = &last
	}
	return s
}

// Open acquires the transport and probes the controller with a status query. On success it waits
// for the controller to settle before returning. Close must be called afterwards whether or not
// Open succeeded.
func (c *Client) Open(ctx context.Context) error {
	if c.opened || c.session.State != Unopened {
		return &ConnectError{Kind: ErrReopen}
	}
	c.opened = true

	c.logger.Infow("opening transport", "address", fmt.Sprintf("0x%02X", c.conf.Address))
	handle, err := c.bus.OpenHandle(ctx, c.conf.Address)
	if err != nil {
		c.logger.Errorw("cannot open transport", "error", err)
		return &ConnectError{Kind: ErrTransportUnavailable, Err: err}
	}
	c.handle = handle

	c.logger.Info("testing connection to controller")
	if err := handle.Write(ctx, []byte{protocol.StatusQuery.Byte()}); err != nil {
		c.logger.Errorw("communication error, check the controller is connected and has the configured address",
			"error", err)
		return &ConnectError{Kind: ErrProbeFailed, Err: err}
	}

	c.session.State = Connected
	c.logger.Info("connection successful")
	c.clock.Sleep(c.conf.SettleDelay)
	return nil
}

// SendCommand writes the single byte encoding cmd and then waits for the pacing delay. A failed
// send leaves the session untouched.
func (c *Client) SendCommand(ctx context.Context, cmd protocol.Command) (Ack, error) {
	if err := c.checkConnected(cmd); err != nil {
		return Ack{}, err
	}
	if !cmd.Valid() {
		return Ack{}, &SendError{Command: cmd, Kind: ErrInvalidArgument}
	}

	b := cmd.Byte()
	c.logger.CDebugw(ctx, "sending command", "command", cmd.String(), "byte", fmt.Sprintf("'%c' (0x%02X)", b, b))
	if err := c.handle.Write(ctx, []byte{b}); err != nil {
		c.logger.Errorw("error sending command", "command", cmd.String(), "error", err)
		return Ack{}, &SendError{Command: cmd, Kind: ErrTransport, Err: err}
	}
	if cmd.IsTracked() {
		c.session.LastCommand = &cmd
	}

	c.clock.Sleep(c.conf.PacingDelay)
	return Ack{Byte: b, Command: cmd}, nil
}

// checkConnected fails with ErrNotConnected outside the Connected state. It comes before any
// argument checks.
func (c *Client) checkConnected(cmd protocol.Command) error {
	if c.session.Connected() {
		return nil
	}
	c.logger.Errorw("cannot send command, transport not open", "command", cmd.String(), "state", c.session.State.String())
	return &SendError{Command: cmd, Kind: ErrNotConnected}
}

// Forward drives forward.
func (c *Client) Forward(ctx context.Context) (Ack, error) {
	c.logger.Info("moving forward")
	return c.SendCommand(ctx, protocol.Forward)
}

// Backward drives backward.
func (c *Client) Backward(ctx context.Context) (Ack, error) {
	c.logger.Info("moving backward")
	return c.SendCommand(ctx, protocol.Backward)
}

// Left turns left.
func (c *Client) Left(ctx context.Context) (Ack, error) {
	c.logger.Info("turning left")
	return c.SendCommand(ctx, protocol.Left)
}

// Right turns right.
func (c *Client) Right(ctx context.Context) (Ack, error) {
	c.logger.Info("turning right")
	return c.SendCommand(ctx, protocol.Right)
}

// Stop stops all motors.
func (c *Client) Stop(ctx context.Context) (Ack, error) {
	c.logger.Info("stopping motors")
	return c.SendCommand(ctx, protocol.Stop)
}

// GetStatus sends a status query. The controller does not answer over the bus; this only proves
// the write path works.
func (c *Client) GetStatus(ctx context.Context) (Ack, error) {
	c.logger.Info("requesting system status")
	return c.SendCommand(ctx, protocol.StatusQuery)
}

// SetSpeed sets the speed level, 0 through 9. Out of range levels fail without a write.
func (c *Client) SetSpeed(ctx context.Context, level int) (Ack, error) {
	if err := c.checkConnected(protocol.Command{Kind: protocol.KindSpeedLevel}); err != nil {
		return Ack{}, err
	}
	if level < 0 || level > protocol.MaxSpeedLevel {
		c.logger.Errorw("invalid speed level", "level", level)
		return Ack{}, &SendError{
			Command: protocol.Command{Kind: protocol.KindSpeedLevel},
			Kind:    ErrInvalidArgument,
			Err:     errors.Errorf("speed level %d, must be 0 thru %d", level, protocol.MaxSpeedLevel),
		}
	}
	cmd, err := protocol.SpeedLevel(uint8(level))
	if err != nil {
		return Ack{}, &SendError{Command: cmd, Kind: ErrInvalidArgument, Err: err}
	}
	c.logger.Infow("setting speed", "level", level)
	return c.SendCommand(ctx, cmd)
}

// ToggleSystem flips the robot's system on or off. The protocol has a single toggle command, so
// the resulting polarity is only known from the session, which flips when the write succeeds.
func (c *Client) ToggleSystem(ctx context.Context) (Ack, error) {
	ack, err := c.SendCommand(ctx, protocol.ToggleSystem)
	if err != nil {
		return ack, err
	}
	c.session.SystemActive = !c.session.SystemActive
	c.logger.Infow("system toggled", "active", c.session.SystemActive)
	return ack, nil
}

// Ping checks the write path by sending a status query.
func (c *Client) Ping(ctx context.Context) error {
	c.logger.Info("testing communication")
	if _, err := c.GetStatus(ctx); err != nil {
		c.logger.Errorw("communication test failed", "error", err)
		return err
	}
	c.logger.Info("communication test passed")
	return nil
}

// Close stops the motors if connected and releases the transport. Errors are logged, not
// returned, so that shutdown always completes. Closing more than once is a no-op.
func (c *Client) Close(ctx context.Context) {
	if c.session.State == Closed {
		return
	}
	// The final stop still goes out when the caller's context is already canceled.
	ctx = context.WithoutCancel(ctx)

	var errs error
	if c.session.Connected() {
		if _, err := c.Stop(ctx); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "final stop"))
		}
	}
	if c.handle != nil {
		c.logger.Info("closing transport")
		if err := c.handle.Close(); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "releasing transport"))
		}
		c.handle = nil
	}
	c.session.State = Closed
	if errs != nil {
		c.logger.Errorw("errors while closing motor controller", "error", errs)
	}
}
