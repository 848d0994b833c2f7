// Package intent maps free text onto robot commands.
//
// Text is matched against an ordered list of rules and the first rule that matches decides what
// happens. Movement, speed and status rules are gated on the robot's system being active.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/protocol"
)

// Robot is the part of a controller.Client that the dispatcher drives.
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

// speedWords are the named speed levels.
var speedWords = map[string]int{
	"maximum": protocol.MaxSpeedLevel,
	"max":     protocol.MaxSpeedLevel,
	"medium":  5,
	"half":    5,
	"minimum": 1,
	"slow":    1,
}

var (
	activatePhrases   = phrases("start*", "activat*", "turn on", "wake up")
	deactivatePhrases = phrases("deactivat*", "turn off", "shutdown", "shut down")
	stopWord          = phrases("stop")
	stopMoving        = phrases("stop moving")
	statusPhrases     = phrases("status", "what are you doing", "where are you", "how are you")

	speedPattern = regexp.MustCompile(`\b(?:set|change) (?:the )?speed (?:to )?(\d+|maximum|max|medium|half|minimum|slow)\b`)
)

// phrases returns a pattern matching any of the given phrases as whole words. A phrase ending in
// '*' is a stem and also matches its inflections: "start*" matches "starting" but not "restart".
func phrases(list ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + strings.Join(lo.Map(list, func(p string, _ int) string {
		if stem, ok := strings.CutSuffix(p, "*"); ok {
			return regexp.QuoteMeta(stem) + `\w*`
		}
		return regexp.QuoteMeta(p)
	}), "|") + `)\b`)
}

type rule struct {
	name string
	// gated rules are rejected while the system is inactive.
	gated  bool
	match  func(text string) bool
	handle func(ctx context.Context, text string) (Result, error)
}

// Dispatcher turns text into commands on a Robot. Like the Robot it drives, it must only be used
// from one goroutine at a time.
type Dispatcher struct {
	robot  Robot
	logger logging.Logger
	rules  []rule
}

// NewDispatcher returns a dispatcher driving robot.
func NewDispatcher(robot Robot, logger logging.Logger) *Dispatcher {
	d := &Dispatcher{robot: robot, logger: logger}
	d.rules = []rule{
		{name: "activate", match: activatePhrases.MatchString, handle: d.activate},
		{name: "deactivate", match: isDeactivation, handle: d.deactivate},
		d.movement("forward", protocol.Forward, robot.Forward, `\b(?:move|go) forward\b`),
		d.movement("backward", protocol.Backward, robot.Backward, `\b(?:move|go) backward\b|\bgo back\b`),
		d.movement("left", protocol.Left, robot.Left, `\bturn (?:to the )?left\b`),
		d.movement("right", protocol.Right, robot.Right, `\bturn (?:to the )?right\b`),
		d.movement("stop", protocol.Stop, robot.Stop, `\bstop moving\b|\bhalt\b|\bfreeze\b`),
		{name: "speed", gated: true, match: isSpeed, handle: d.setSpeed},
		{name: "status", gated: true, match: statusPhrases.MatchString, handle: d.status},
	}
	return d
}

// Dispatch runs the first rule that matches text. Text that matches nothing is Unrecognized and
// never an error; errors only come from the robot.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (Result, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, r := range d.rules {
		if !r.match(text) {
			continue
		}
		if r.gated && !d.robot.Session().SystemActive {
			d.logger.CDebugw(ctx, "rejected while inactive", "rule", r.name, "text", text)
			return Result{Outcome: RejectedInactive}, nil
		}
		d.logger.CDebugw(ctx, "matched", "rule", r.name, "text", text)
		return r.handle(ctx, text)
	}
	d.logger.CDebugw(ctx, "no rule matched", "text", text)
	return Result{Outcome: Unrecognized}, nil
}

func isDeactivation(text string) bool {
	if deactivatePhrases.MatchString(text) {
		return true
	}
	// "stop moving" is a movement command, not a shutdown.
	return stopWord.MatchString(text) && !stopMoving.MatchString(text)
}

func (d *Dispatcher) activate(ctx context.Context, _ string) (Result, error) {
	if d.robot.Session().SystemActive {
		return Result{Outcome: AlreadyActive}, nil
	}
	if _, err := d.robot.ToggleSystem(ctx); err != nil {
		return Result{}, err
	}
	return Result{Outcome: SystemActivated}, nil
}

// deactivate always stops the motors before anything else, whatever the system state.
func (d *Dispatcher) deactivate(ctx context.Context, _ string) (Result, error) {
	if _, err := d.robot.Stop(ctx); err != nil {
		return Result{}, err
	}
	if !d.robot.Session().SystemActive {
		return Result{Outcome: AlreadyInactive}, nil
	}
	if _, err := d.robot.ToggleSystem(ctx); err != nil {
		return Result{}, err
	}
	return Result{Outcome: SystemDeactivated}, nil
}

func (d *Dispatcher) movement(
	name string,
	cmd protocol.Command,
	send func(context.Context) (controller.Ack, error),
	pattern string,
) rule {
	re := regexp.MustCompile(pattern)
	return rule{
		name:  name,
		gated: true,
		match: re.MatchString,
		handle: func(ctx context.Context, _ string) (Result, error) {
			if _, err := send(ctx); err != nil {
				return Result{}, err
			}
			return Result{Outcome: Executed, Command: cmd}, nil
		},
	}
}

func isSpeed(text string) bool {
	_, ok := parseSpeed(text)
	return ok
}

// parseSpeed finds a speed request in text. Numbers above the maximum level are clamped to it.
func parseSpeed(text string) (int, bool) {
	m := speedPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	if level, ok := speedWords[m[1]]; ok {
		return level, true
	}
	level, err := strconv.Atoi(m[1])
	if err != nil || level > protocol.MaxSpeedLevel {
		// Only overflow can fail here, the pattern guarantees digits.
		level = protocol.MaxSpeedLevel
	}
	return level, true
}

func (d *Dispatcher) setSpeed(ctx context.Context, text string) (Result, error) {
	level, _ := parseSpeed(text)
	ack, err := d.robot.SetSpeed(ctx, level)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: Executed, Command: ack.Command}, nil
}

// status reports from the session alone. It does not send a status query.
func (d *Dispatcher) status(_ context.Context, _ string) (Result, error) {
	report := NoCommand
	if last := d.robot.Session().LastCommand; last != nil {
		report = last.String()
	}
	return Result{Outcome: StatusReport, Report: report}, nil
}
