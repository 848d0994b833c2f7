package controller_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/protocol"
	"go.viam.com/controlpi/testutils"
	"go.viam.com/controlpi/testutils/inject"
	"go.viam.com/controlpi/transport"
	"go.viam.com/controlpi/transport/fake"
)

func newClient(t *testing.T, bus transport.Bus, conf controller.Config) (*controller.Client, *testutils.SleepRecorder) {
	t.Helper()
	clk := testutils.NewSleepRecorder()
	if conf.Address == 0 {
		conf.Address = controller.DefaultAddress
	}
	return controller.New(bus, conf, logging.NewTestLogger(t), controller.WithClock(clk)), clk
}

func openClient(t *testing.T) (*controller.Client, *fake.Bus, *testutils.SleepRecorder) {
	t.Helper()
	bus := fake.NewBus(nil)
	c, clk := newClient(t, bus, controller.Config{})
	test.That(t, c.Open(context.Background()), test.ShouldBeNil)
	return c, bus, clk
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	c, bus, clk := openClient(t)
	defer c.Close(ctx)

	// The probe goes straight to the handle, so it is followed by the settle delay only.
	test.That(t, bus.Writes(), test.ShouldResemble, []fake.Write{{Addr: 0x08, Data: []byte("?")}})
	test.That(t, clk.Slept(), test.ShouldResemble, []time.Duration{controller.DefaultSettleDelay})

	session := c.Session()
	test.That(t, session.Connected(), test.ShouldBeTrue)
	test.That(t, session.State, test.ShouldEqual, controller.Connected)
	test.That(t, session.SystemActive, test.ShouldBeFalse)
	test.That(t, session.LastCommand, test.ShouldBeNil)

	err := c.Open(ctx)
	test.That(t, errors.Is(err, controller.ErrReopen), test.ShouldBeTrue)
	test.That(t, bus.OpenCount(), test.ShouldEqual, 1)
}

func TestOpenTransportUnavailable(t *testing.T) {
	ctx := context.Background()
	noBus := errors.New("no such device")
	bus := &inject.Bus{
		OpenHandleFunc: func(ctx context.Context, addr byte) (transport.Handle, error) {
			return nil, noBus
		},
	}
	c, clk := newClient(t, bus, controller.Config{})

	err := c.Open(ctx)
	test.That(t, errors.Is(err, controller.ErrTransportUnavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(err, noBus), test.ShouldBeTrue)
	test.That(t, c.Session().Connected(), test.ShouldBeFalse)
	test.That(t, clk.Slept(), test.ShouldBeEmpty)

	// Close after a failed open is safe and has nothing to release.
	c.Close(ctx)
	test.That(t, c.Session().State, test.ShouldEqual, controller.Closed)
}

func TestOpenProbeFailed(t *testing.T) {
	ctx := context.Background()
	var writes, closes int
	handle := &inject.Handle{
		WriteFunc: func(ctx context.Context, tx []byte) error {
			writes++
			return errors.New("remote I/O error")
		},
		CloseFunc: func() error {
			closes++
			return nil
		},
	}
	bus := &inject.Bus{
		OpenHandleFunc: func(ctx context.Context, addr byte) (transport.Handle, error) {
			test.That(t, addr, test.ShouldEqual, byte(0x11))
			return handle, nil
		},
	}
	c, clk := newClient(t, bus, controller.Config{Address: 0x11})

	err := c.Open(ctx)
	test.That(t, errors.Is(err, controller.ErrProbeFailed), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "remote I/O error")
	test.That(t, c.Session().Connected(), test.ShouldBeFalse)
	test.That(t, writes, test.ShouldEqual, 1)
	test.That(t, clk.Slept(), test.ShouldBeEmpty)

	// The handle acquired before the probe failed is released by Close, without a stop.
	c.Close(ctx)
	test.That(t, writes, test.ShouldEqual, 1)
	test.That(t, closes, test.ShouldEqual, 1)
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	bus := fake.NewBus(nil)
	c, _ := newClient(t, bus, controller.Config{})

	for _, send := range []func(context.Context) (controller.Ack, error){
		c.Forward, c.Backward, c.Left, c.Right, c.Stop, c.GetStatus, c.ToggleSystem,
	} {
		_, err := send(ctx)
		test.That(t, errors.Is(err, controller.ErrNotConnected), test.ShouldBeTrue)
	}
	_, err := c.SetSpeed(ctx, 4)
	test.That(t, errors.Is(err, controller.ErrNotConnected), test.ShouldBeTrue)
	// Not being connected wins over a bad argument.
	_, err = c.SetSpeed(ctx, 12)
	test.That(t, errors.Is(err, controller.ErrNotConnected), test.ShouldBeTrue)
	_, err = c.SendCommand(ctx, protocol.Command{Kind: protocol.KindSpeedLevel, Level: 12})
	test.That(t, errors.Is(err, controller.ErrNotConnected), test.ShouldBeTrue)
	test.That(t, errors.Is(err, controller.ErrInvalidArgument), test.ShouldBeFalse)
	test.That(t, bus.OpenCount(), test.ShouldEqual, 0)
	test.That(t, c.Session().SystemActive, test.ShouldBeFalse)

	test.That(t, c.Open(ctx), test.ShouldBeNil)
	c.Close(ctx)
	written := bus.Written()
	_, err = c.Forward(ctx)
	test.That(t, errors.Is(err, controller.ErrNotConnected), test.ShouldBeTrue)
	_, err = c.SendCommand(ctx, protocol.Command{Kind: protocol.KindForward, Level: 3})
	test.That(t, errors.Is(err, controller.ErrNotConnected), test.ShouldBeTrue)
	test.That(t, bus.Written(), test.ShouldEqual, written)
}

func TestSendCommands(t *testing.T) {
	ctx := context.Background()
	c, bus, clk := openClient(t)
	defer c.Close(ctx)

	for _, tc := range []struct {
		send func(context.Context) (controller.Ack, error)
		cmd  protocol.Command
	}{
		{c.Forward, protocol.Forward},
		{c.Backward, protocol.Backward},
		{c.Left, protocol.Left},
		{c.Right, protocol.Right},
		{c.Stop, protocol.Stop},
	} {
		ack, err := tc.send(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ack.Byte, test.ShouldEqual, tc.cmd.Byte())
		test.That(t, ack.Command, test.ShouldResemble, tc.cmd)
		test.That(t, *c.Session().LastCommand, test.ShouldResemble, tc.cmd)
	}
	test.That(t, bus.Written(), test.ShouldEqual, "?FBLRS")

	// Every send is followed by the pacing delay.
	slept := clk.Slept()
	test.That(t, len(slept), test.ShouldEqual, 6)
	for _, d := range slept[1:] {
		test.That(t, d, test.ShouldEqual, controller.DefaultPacingDelay)
	}

	// Status queries are not tracked as the last command.
	ack, err := c.GetStatus(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ack.Byte, test.ShouldEqual, byte('?'))
	test.That(t, *c.Session().LastCommand, test.ShouldResemble, protocol.Stop)
	test.That(t, c.Ping(ctx), test.ShouldBeNil)
	test.That(t, bus.Written(), test.ShouldEqual, "?FBLRS??")
}

func TestSendInvalidCommand(t *testing.T) {
	ctx := context.Background()
	c, bus, _ := openClient(t)
	defer c.Close(ctx)

	_, err := c.SendCommand(ctx, protocol.Command{Kind: protocol.KindSpeedLevel, Level: 12})
	test.That(t, errors.Is(err, controller.ErrInvalidArgument), test.ShouldBeTrue)
	_, err = c.SendCommand(ctx, protocol.Command{})
	test.That(t, errors.Is(err, controller.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, bus.Written(), test.ShouldEqual, "?")
}

func TestSetSpeed(t *testing.T) {
	ctx := context.Background()
	c, bus, _ := openClient(t)
	defer c.Close(ctx)

	for level := 0; level <= 9; level++ {
		ack, err := c.SetSpeed(ctx, level)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ack.Byte, test.ShouldEqual, byte('0'+level))
	}
	test.That(t, bus.Written(), test.ShouldEqual, "?0123456789")
	test.That(t, c.Session().LastCommand.String(), test.ShouldEqual, "SpeedLevel(9)")

	for _, level := range []int{-1, 10, 42} {
		_, err := c.SetSpeed(ctx, level)
		test.That(t, errors.Is(err, controller.ErrInvalidArgument), test.ShouldBeTrue)
	}
	test.That(t, bus.Written(), test.ShouldEqual, "?0123456789")
	test.That(t, c.Session().LastCommand.String(), test.ShouldEqual, "SpeedLevel(9)")
}

func TestToggleSystem(t *testing.T) {
	ctx := context.Background()
	c, bus, _ := openClient(t)
	defer c.Close(ctx)

	_, err := c.ToggleSystem(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Session().SystemActive, test.ShouldBeTrue)
	_, err = c.ToggleSystem(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Session().SystemActive, test.ShouldBeFalse)
	test.That(t, bus.Written(), test.ShouldEqual, "?XX")
	// Toggles are not tracked as the last command.
	test.That(t, c.Session().LastCommand, test.ShouldBeNil)
}

func TestInitialActive(t *testing.T) {
	c, _ := newClient(t, fake.NewBus(nil), controller.Config{InitialActive: true})
	test.That(t, c.Session().SystemActive, test.ShouldBeTrue)
}

func TestFailedSendKeepsSession(t *testing.T) {
	ctx := context.Background()
	c, bus, clk := openClient(t)
	defer c.Close(ctx)

	_, err := c.Forward(ctx)
	test.That(t, err, test.ShouldBeNil)
	sleeps := len(clk.Slept())

	nack := errors.New("nack")
	bus.SetWriteErr(nack)
	_, err = c.ToggleSystem(ctx)
	test.That(t, errors.Is(err, controller.ErrTransport), test.ShouldBeTrue)
	test.That(t, errors.Is(err, nack), test.ShouldBeTrue)
	_, err = c.Left(ctx)
	test.That(t, errors.Is(err, controller.ErrTransport), test.ShouldBeTrue)

	session := c.Session()
	test.That(t, session.SystemActive, test.ShouldBeFalse)
	test.That(t, *session.LastCommand, test.ShouldResemble, protocol.Forward)
	// A failed send is still a connected client; there is no reconnect.
	test.That(t, session.Connected(), test.ShouldBeTrue)
	test.That(t, len(clk.Slept()), test.ShouldEqual, sleeps)

	bus.SetWriteErr(nil)
	_, err = c.Left(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Written(), test.ShouldEqual, "?FL")
}

func TestSessionIsACopy(t *testing.T) {
	ctx := context.Background()
	c, _, _ := openClient(t)
	defer c.Close(ctx)

	_, err := c.Forward(ctx)
	test.That(t, err, test.ShouldBeNil)
	session := c.Session()
	*session.LastCommand = protocol.Backward
	session.SystemActive = true
	test.That(t, *c.Session().LastCommand, test.ShouldResemble, protocol.Forward)
	test.That(t, c.Session().SystemActive, test.ShouldBeFalse)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	c, bus, _ := openClient(t)

	c.Close(ctx)
	test.That(t, bus.Written(), test.ShouldEqual, "?S")
	test.That(t, bus.OpenHandles(), test.ShouldEqual, 0)
	test.That(t, c.Session().State, test.ShouldEqual, controller.Closed)

	// Closing again writes nothing more.
	c.Close(ctx)
	test.That(t, bus.Written(), test.ShouldEqual, "?S")

	err := c.Open(ctx)
	test.That(t, errors.Is(err, controller.ErrReopen), test.ShouldBeTrue)
}

func TestCloseSwallowsErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var written []byte
	handle := &inject.Handle{
		WriteFunc: func(ctx context.Context, tx []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			written = append(written, tx...)
			if tx[0] == 'S' {
				return errors.New("bus busy")
			}
			return nil
		},
		CloseFunc: func() error {
			return errors.New("already closed")
		},
	}
	bus := &inject.Bus{
		OpenHandleFunc: func(ctx context.Context, addr byte) (transport.Handle, error) {
			return handle, nil
		},
	}
	clk := testutils.NewSleepRecorder()
	logger, observed := logging.NewObservedTestLogger(t)
	c := controller.New(bus, controller.Config{Address: controller.DefaultAddress}, logger, controller.WithClock(clk))
	test.That(t, c.Open(ctx), test.ShouldBeNil)

	// A canceled context still gets the final stop out.
	cancel()
	c.Close(ctx)
	test.That(t, string(written), test.ShouldEqual, "?S")
	test.That(t, c.Session().State, test.ShouldEqual, controller.Closed)
	test.That(t, observed.FilterMessageSnippet("errors while closing").Len(), test.ShouldEqual, 1)
}
