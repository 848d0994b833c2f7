// Package routine contains scripted drives for exercising a robot end to end.
package routine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/protocol"
	"go.viam.com/controlpi/transport"
)

// Robot is the part of a controller.Client that routines drive.
type Robot interface {
	Forward(ctx context.Context) (controller.Ack, error)
	Backward(ctx context.Context) (controller.Ack, error)
	Left(ctx context.Context) (controller.Ack, error)
	Right(ctx context.Context) (controller.Ack, error)
	Stop(ctx context.Context) (controller.Ack, error)
	SetSpeed(ctx context.Context, level int) (controller.Ack, error)
	ToggleSystem(ctx context.Context) (controller.Ack, error)
	Session() controller.Session
}

const (
	// cruiseSpeed is the medium speed every routine drives at.
	cruiseSpeed = 5
	settle      = 500 * time.Millisecond
	// SweepGap is the pause between raw sweep commands.
	SweepGap = 1500 * time.Millisecond
)

// Runner runs routines, narrating each step to out.
type Runner struct {
	out    io.Writer
	logger logging.Logger
	clock  clock.Clock
}

// NewRunner returns a runner that narrates to out. A nil clock means the wall clock.
func NewRunner(out io.Writer, logger logging.Logger, clk clock.Clock) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{out: out, logger: logger, clock: clk}
}

func (r *Runner) say(format string, args ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(r.out, format+"\n", args...)
}

// hold keeps the current command running for d. The wait itself is not interruptible; a context
// canceled during it stops the routine afterwards.
func (r *Runner) hold(ctx context.Context, d time.Duration) error {
	r.clock.Sleep(d)
	return ctx.Err()
}

type step struct {
	say  string
	send func(context.Context) (controller.Ack, error)
	hold time.Duration
}

func (r *Runner) run(ctx context.Context, steps []step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.say("%s", s.say)
		if _, err := s.send(ctx); err != nil {
			return err
		}
		if err := r.hold(ctx, s.hold); err != nil {
			return err
		}
	}
	return nil
}

// stopAfter sends a best-effort stop when *errPtr is set, so the motors never keep running after a
// routine failed partway.
func (r *Runner) stopAfter(ctx context.Context, robot Robot, errPtr *error) {
	if *errPtr == nil {
		return
	}
	r.logger.Errorw("routine failed, stopping motors", "error", *errPtr)
	utils.UncheckedErrorFunc(func() error {
		_, err := robot.Stop(context.WithoutCancel(ctx))
		return err
	})
}

func (r *Runner) setSpeed(level int, robot Robot) func(context.Context) (controller.Ack, error) {
	return func(ctx context.Context) (controller.Ack, error) {
		return robot.SetSpeed(ctx, level)
	}
}

// TestSequence sets a medium speed and drives forward, right, backward and left for a second
// each before stopping.
func (r *Runner) TestSequence(ctx context.Context, robot Robot) (err error) {
	defer r.stopAfter(ctx, robot, &err)
	r.logger.Info("starting motor test sequence")

	err = r.run(ctx, []step{
		{fmt.Sprintf("Speed set to %d (medium)", cruiseSpeed), r.setSpeed(cruiseSpeed, robot), settle},
		{"Moving forward for 1 second...", robot.Forward, time.Second},
		{"Turning right for 1 second...", robot.Right, time.Second},
		{"Moving backward for 1 second...", robot.Backward, time.Second},
		{"Turning left for 1 second...", robot.Left, time.Second},
		{"Stopping motors...", robot.Stop, settle},
	})
	if err != nil {
		return errors.Wrap(err, "test sequence")
	}
	r.say("Test sequence complete!")
	return nil
}

// Square turns the system on if needed, drives a square at medium speed and turns the system
// off again.
func (r *Runner) Square(ctx context.Context, robot Robot) (err error) {
	defer r.stopAfter(ctx, robot, &err)

	if !robot.Session().SystemActive {
		err = r.run(ctx, []step{{"Starting robot...", robot.ToggleSystem, settle}})
		if err != nil {
			return errors.Wrap(err, "square")
		}
	}
	steps := []step{{fmt.Sprintf("Speed set to %d", cruiseSpeed), r.setSpeed(cruiseSpeed, robot), settle}}
	for side := 1; side <= 4; side++ {
		steps = append(steps,
			step{fmt.Sprintf("Square side %d/4, moving forward", side), robot.Forward, 2 * time.Second},
			step{"Turning right", robot.Right, time.Second},
		)
	}
	steps = append(steps, step{"Square complete, stopping...", robot.Stop, settle})
	if err = r.run(ctx, steps); err != nil {
		return errors.Wrap(err, "square")
	}
	if robot.Session().SystemActive {
		if _, err = robot.ToggleSystem(ctx); err != nil {
			return errors.Wrap(err, "square")
		}
	}
	return nil
}

// SweepStep is one raw command of the sweep.
type SweepStep struct {
	Command     protocol.Command
	Description string
}

// SweepSteps is every raw command the sweep writes, in order.
var SweepSteps = []SweepStep{
	{protocol.StatusQuery, "Status request"},
	{protocol.ToggleSystem, "Toggle system ON"},
	{protocol.Command{Kind: protocol.KindSpeedLevel, Level: cruiseSpeed}, "Set speed to 5"},
	{protocol.Forward, "Move forward"},
	{protocol.Right, "Turn right"},
	{protocol.Left, "Turn left"},
	{protocol.Backward, "Move backward"},
	{protocol.Stop, "Stop motors"},
	{protocol.ToggleSystem, "Toggle system OFF"},
}

// Sweep writes every SweepSteps byte straight to the peer at addr, bypassing the client and its
// session, with SweepGap between writes. A failed write is reported and the sweep moves on; the
// failures are returned together at the end.
func (r *Runner) Sweep(ctx context.Context, bus transport.Bus, addr byte) (err error) {
	r.say("Opening bus for peer 0x%02X...", addr)
	handle, err := bus.OpenHandle(ctx, addr)
	if err != nil {
		return errors.Wrap(err, "cannot open bus")
	}
	defer func() {
		err = multierr.Combine(err, handle.Close())
	}()
	r.say("Bus opened successfully")

	var errs error
	for _, s := range SweepSteps {
		if err := ctx.Err(); err != nil {
			return multierr.Combine(errs, err)
		}
		b := s.Command.Byte()
		r.say("Sending: '%c' - %s", b, s.Description)
		if err := handle.Write(ctx, []byte{b}); err != nil {
			r.say("Error sending command: %v", err)
			r.logger.Errorw("sweep write failed", "command", s.Command.String(), "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "sending %v", s.Command))
			continue
		}
		r.clock.Sleep(SweepGap)
	}
	r.say("Sweep completed")
	return errs
}
