package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/controlpi/config"
	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/intent"
	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/mcpserver"
	"go.viam.com/controlpi/protocol"
	"go.viam.com/controlpi/routine"
)

// demoPause is the default pause between scripted chat instructions.
const demoPause = 2 * time.Second

// demoScript is what an upstream language model might send the robot.
var demoScript = []string{
	"Please activate the robot system",
	"Set speed to medium",
	"Please move forward",
	"Turn to the right",
	"Move forward again",
	"Stop moving",
	"What's your status?",
	"Please shut down the robot",
}

// SequenceAction runs the motor self-test.
func SequenceAction(c *cli.Context) error {
	return withClient(c, func(ctx context.Context, e *env, client *controller.Client) error {
		printf(c.App.Writer, "Beginning motor test sequence...")
		return routine.NewRunner(c.App.Writer, e.logger.Sublogger("routine"), nil).TestSequence(ctx, client)
	})
}

// SquareAction drives the robot in a square.
func SquareAction(c *cli.Context) error {
	return withClient(c, func(ctx context.Context, e *env, client *controller.Client) error {
		return routine.NewRunner(c.App.Writer, e.logger.Sublogger("routine"), nil).Square(ctx, client)
	})
}

// SweepAction writes each raw command byte straight to the bus.
func SweepAction(c *cli.Context) (err error) {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer func() {
		if e.fakeBus != nil {
			printf(c.App.Writer, "Dry run, bytes written: %q", e.fakeBus.Written())
		}
		err = errors.Wrap(multierr.Combine(err, e.close()), "sweep")
	}()
	return routine.NewRunner(c.App.Writer, e.logger.Sublogger("routine"), nil).
		Sweep(c.Context, e.bus, byte(e.conf.Address))
}

// InteractiveAction reads single-letter commands until Q or end of input.
func InteractiveAction(c *cli.Context) error {
	return withClient(c, func(ctx context.Context, e *env, client *controller.Client) error {
		w := c.App.Writer
		printf(w, "\nInteractive Control Mode")
		printf(w, "------------------------")
		printf(w, "Commands:")
		printf(w, "  F - Move Forward")
		printf(w, "  B - Move Backward")
		printf(w, "  L - Turn Left")
		printf(w, "  R - Turn Right")
		printf(w, "  S - Stop")
		printf(w, "  X - Toggle System")
		printf(w, "  0-9 - Set Speed")
		printf(w, "  ? - Get Status")
		printf(w, "  Q - Quit")
		printf(w, "")
		return interactive(ctx, c.App.Reader, w, client)
	})
}

func interactive(ctx context.Context, in io.Reader, w io.Writer, client *controller.Client) error {
	scanner := bufio.NewScanner(in)
	for {
		prompt(w, "Enter command: ")
		if !scanner.Scan() {
			printf(w, "")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "q") {
			return nil
		}
		if len(line) != 1 {
			warningf(w, "Invalid command")
			continue
		}
		cmd, err := protocol.Decode(line[0])
		if err != nil {
			warningf(w, "Invalid command")
			continue
		}
		if cmd == protocol.StatusQuery {
			printf(w, "Status: %s", systemState(client.Session()))
		}
		if cmd == protocol.ToggleSystem {
			_, err = client.ToggleSystem(ctx)
		} else {
			_, err = client.SendCommand(ctx, cmd)
		}
		if err != nil {
			errorf(w, "%v", err)
			continue
		}
		infof(w, "Sent %v", cmd)
	}
}

func systemState(s controller.Session) string {
	if s.SystemActive {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// ChatAction dispatches plain English instructions, read from input or from the demo script.
func ChatAction(c *cli.Context) error {
	return withClient(c, func(ctx context.Context, e *env, client *controller.Client) error {
		dispatcher := intent.NewDispatcher(client, e.logger.Sublogger("intent"))
		trace := c.Bool(chatFlagTrace)
		if c.Bool(chatFlagDemo) {
			return chatDemo(ctx, c.App.Writer, dispatcher, clock.New(), c.Duration(chatFlagPause), trace)
		}
		return chat(ctx, c.App.Reader, c.App.Writer, dispatcher, trace)
	})
}

func chat(ctx context.Context, in io.Reader, w io.Writer, dispatcher *intent.Dispatcher, trace bool) error {
	printf(w, "Talk to the robot. Type 'exit' or 'quit' to leave.")
	scanner := bufio.NewScanner(in)
	for {
		prompt(w, "> ")
		if !scanner.Scan() {
			printf(w, "")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		respond(ctx, w, dispatcher, line, trace)
	}
}

func chatDemo(
	ctx context.Context, w io.Writer, dispatcher *intent.Dispatcher, clk clock.Clock, pause time.Duration, trace bool,
) error {
	for i, line := range demoScript {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			clk.Sleep(pause)
		}
		printf(w, "\nLLM Command: '%s'", line)
		respond(ctx, w, dispatcher, line, trace)
	}
	printf(w, "\nDemo completed!")
	return nil
}

// respond dispatches one instruction and prints the robot's answer. Failures are printed and
// the conversation goes on. A traced instruction runs in its own debug-mode context.
func respond(ctx context.Context, w io.Writer, dispatcher *intent.Dispatcher, line string, trace bool) {
	if trace {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	res, err := dispatcher.Dispatch(ctx, line)
	if err != nil {
		errorf(w, "%v", err)
		return
	}
	switch res.Outcome {
	case intent.Unrecognized, intent.RejectedInactive:
		warningf(w, "Robot Response: %s", res)
	default:
		infof(w, "Robot Response: %s", res)
	}
}

// MCPAction serves the robot to an LLM agent over stdio.
func MCPAction(c *cli.Context) error {
	return withClient(c, func(ctx context.Context, e *env, client *controller.Client) error {
		return mcpserver.New(client, e.logger.Sublogger("mcp"), version()).Run(ctx)
	})
}

// InitConfigAction writes the default config, refusing to overwrite an existing file.
func InitConfigAction(c *cli.Context) error {
	path := c.String(configFlag)
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("config %q already exists", path)
	}
	if err := config.Default().Write(path); err != nil {
		return errors.Wrapf(err, "cannot write config %q", path)
	}
	printf(c.App.Writer, "Wrote default config to %s", path)
	return nil
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "?"
	}
	if info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// VersionAction prints the version of this program and of the modules that matter in the field.
func VersionAction(c *cli.Context) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("error reading build info")
	}
	if c.Bool(debugFlag) {
		printf(c.App.Writer, "%s", info.String())
	}
	deps := make(map[string]string, len(info.Deps))
	for _, dep := range info.Deps {
		deps[dep.Path] = dep.Version
	}
	printf(c.App.Writer, "Version %s Git=%s periph=%s mcp=%s", version(), revision(info),
		orUnknown(deps["periph.io/x/host/v3"]), orUnknown(deps["github.com/modelcontextprotocol/go-sdk"]))
	return nil
}

func revision(info *debug.BuildInfo) string {
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
			return setting.Value[:8]
		}
	}
	return "?"
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
