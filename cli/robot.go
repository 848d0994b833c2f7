package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/controlpi/config"
	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/transport"
	"go.viam.com/controlpi/transport/fake"
	"go.viam.com/controlpi/transport/i2cbus"
	"go.viam.com/controlpi/transport/serialbus"
)

// loadConfig reads the config file and applies the flags that were set on the command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	conf, err := config.Read(c.String(configFlag))
	if err != nil {
		return nil, err
	}
	if c.IsSet(transportFlag) {
		conf.Transport = c.String(transportFlag)
	}
	if c.IsSet(busFlag) {
		conf.I2CBus = c.Int(busFlag)
	}
	if c.IsSet(addressFlag) {
		conf.Address = c.Int(addressFlag)
	}
	if c.IsSet(serialPathFlag) {
		conf.SerialPath = c.String(serialPathFlag)
	}
	if c.IsSet(baudRateFlag) {
		conf.SerialBaudRate = c.Int(baudRateFlag)
	}
	if c.IsSet(logFileFlag) {
		conf.LogFile = c.String(logFileFlag)
	}
	if c.IsSet(activeFlag) {
		conf.InitialActive = c.Bool(activeFlag)
	}
	if err := conf.Validate("flags"); err != nil {
		return nil, err
	}
	return conf, nil
}

// env is everything an action needs to reach the robot.
type env struct {
	conf    *config.Config
	logger  logging.Logger
	bus     transport.Bus
	fakeBus *fake.Bus
	closers []func() error
}

// newEnv loads the config and builds the logger and bus it describes. Logs go to the app's
// error writer so they do not interleave with prompts.
func newEnv(c *cli.Context) (*env, error) {
	conf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	e := &env{conf: conf}

	e.logger = logging.NewBlankLogger("controlpi")
	e.logger.SetLevel(logging.INFO)
	e.logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if conf.LogFile != "" {
		fileAppender := logging.NewFileAppender(conf.LogFile)
		e.logger.AddAppender(fileAppender)
		e.closers = append(e.closers, fileAppender.Close)
	}
	config.InitLoggingSettings(e.logger, c.Bool(debugFlag))
	config.UpdateFileConfigDebug(conf.Debug)

	switch conf.Transport {
	case config.TransportI2C:
		e.bus = i2cbus.New(conf.I2CBus)
	case config.TransportSerial:
		bus, err := serialbus.New(conf.SerialPath, conf.SerialBaudRate)
		if err != nil {
			return nil, multierr.Combine(err, e.close())
		}
		e.bus = bus
	case config.TransportFake:
		e.fakeBus = fake.NewBus(e.logger.Sublogger("fake"))
		e.bus = e.fakeBus
	default:
		return nil, multierr.Combine(errors.Errorf("unknown transport %q", conf.Transport), e.close())
	}
	return e, nil
}

// openClient opens a client on the env's bus. The returned client must be closed with
// closeClient whether or not opening succeeded.
func (e *env) openClient(ctx context.Context) (*controller.Client, error) {
	client := controller.New(e.bus, e.conf.ControllerConfig(), e.logger.Sublogger("controller"))
	if err := client.Open(ctx); err != nil {
		return client, errors.Wrap(err, "failed to communicate with the controller")
	}
	return client, nil
}

// close releases the log file.
func (e *env) close() error {
	var errs error
	for _, closer := range e.closers {
		errs = multierr.Append(errs, closer())
	}
	return errs
}

// withClient runs fn against an opened client, closing it and the env afterwards on every path.
func withClient(c *cli.Context, fn func(ctx context.Context, e *env, client *controller.Client) error) (err error) {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, e.close())
	}()

	ctx := c.Context
	client, err := e.openClient(ctx)
	defer func() {
		client.Close(ctx)
		if e.fakeBus != nil {
			printf(c.App.Writer, "Dry run, bytes written: %q", e.fakeBus.Written())
		}
	}()
	if err != nil {
		return err
	}
	return fn(ctx, e, client)
}
