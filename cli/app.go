// Package cli contains the controlpi command line application.
package cli

import (
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"go.viam.com/controlpi/config"
	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/transport/i2cbus"
	"go.viam.com/controlpi/transport/serialbus"
)

// Flags.
const (
	configFlag     = "config"
	debugFlag      = "debug"
	logFileFlag    = "log-file"
	transportFlag  = "transport"
	busFlag        = "bus"
	addressFlag    = "address"
	serialPathFlag = "serial-path"
	baudRateFlag   = "baud-rate"
	activeFlag     = "active"

	chatFlagDemo  = "demo"
	chatFlagPause = "pause"
	chatFlagTrace = "trace"
)

func newApp() *cli.App {
	return &cli.App{
		Name:            "controlpi",
		Usage:           "drive a robot's motor controller over I2C or serial",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` (default " + config.DefaultPath() + ")",
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  logFileFlag,
				Usage: "also write logs to `FILE`, rotated at 10MB",
			},
			&cli.StringFlag{
				Name:  transportFlag,
				Usage: "transport to the controller: i2c, serial or fake (a dry run)",
			},
			&cli.IntFlag{
				Name:  busFlag,
				Usage: "I2C bus number",
				Value: i2cbus.DefaultBusID,
			},
			&cli.IntFlag{
				Name:  addressFlag,
				Usage: "controller address on the bus",
				Value: controller.DefaultAddress,
			},
			&cli.StringFlag{
				Name:  serialPathFlag,
				Usage: "serial device `PATH` when using the serial transport",
			},
			&cli.IntFlag{
				Name:  baudRateFlag,
				Usage: "serial baud rate",
				Value: serialbus.DefaultBaudRate,
			},
			&cli.BoolFlag{
				Name:  activeFlag,
				Usage: "treat the robot's system as already on",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "sequence",
				Usage:  "run the motor self-test: forward, right, backward and left for a second each",
				Action: SequenceAction,
			},
			{
				Name:   "interactive",
				Usage:  "send single-letter commands typed at a prompt",
				Action: InteractiveAction,
			},
			{
				Name:  "chat",
				Usage: "drive the robot with plain English instructions",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  chatFlagDemo,
						Usage: "play a scripted conversation instead of reading input",
					},
					&cli.DurationFlag{
						Name:  chatFlagPause,
						Usage: "pause between demo instructions",
						Value: demoPause,
					},
					&cli.BoolFlag{
						Name:  chatFlagTrace,
						Usage: "log each instruction's steps at debug level, tagged with a per-instruction key",
					},
				},
				Action: ChatAction,
			},
			{
				Name:   "square",
				Usage:  "drive in a square",
				Action: SquareAction,
			},
			{
				Name:   "sweep",
				Usage:  "write every raw command byte to the controller, bypassing the client",
				Action: SweepAction,
			},
			{
				Name:   "mcp",
				Usage:  "serve the robot as Model Context Protocol tools over stdio",
				Action: MCPAction,
			},
			{
				Name:      "init-config",
				Usage:     "write a config file with the default settings",
				UsageText: "controlpi [--config FILE] init-config",
				Action:    InitConfigAction,
			},
			{
				Name:   "version",
				Usage:  "print version info for this program",
				Action: VersionAction,
			},
		},
	}
}

// NewApp returns a new app with the CLI API, Reader set to in, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(in io.Reader, out, errOut io.Writer) *cli.App {
	app := newApp()
	if in == nil {
		in = os.Stdin
	}
	app.Reader = in
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
