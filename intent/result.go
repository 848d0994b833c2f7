package intent

import (
	"fmt"

	"go.viam.com/controlpi/protocol"
)

// Outcome is the kind of result a dispatch produced.
type Outcome uint8

// The dispatch outcomes.
const (
	Unrecognized Outcome = iota
	SystemActivated
	SystemDeactivated
	AlreadyActive
	AlreadyInactive
	Executed
	RejectedInactive
	StatusReport
)

func (o Outcome) String() string {
	switch o {
	case Unrecognized:
		return "Unrecognized"
	case SystemActivated:
		return "SystemActivated"
	case SystemDeactivated:
		return "SystemDeactivated"
	case AlreadyActive:
		return "AlreadyActive"
	case AlreadyInactive:
		return "AlreadyInactive"
	case Executed:
		return "Executed"
	case RejectedInactive:
		return "RejectedInactive"
	case StatusReport:
		return "StatusReport"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// NoCommand is the report given when no command has been sent yet.
const NoCommand = "None"

// Result is what a dispatch did. Command is set for Executed and Report for StatusReport.
type Result struct {
	Outcome Outcome
	Command protocol.Command
	Report  string
}

// Label is a compact form of the result, e.g. "Executed(SpeedLevel(5))" or "StatusReport(Stop)".
func (r Result) Label() string {
	switch r.Outcome {
	case Executed:
		return fmt.Sprintf("%v(%v)", r.Outcome, r.Command)
	case StatusReport:
		return fmt.Sprintf("%v(%s)", r.Outcome, r.Report)
	default:
		return r.Outcome.String()
	}
}

// String renders the message shown to the operator.
func (r Result) String() string {
	switch r.Outcome {
	case SystemActivated:
		return "Robot system activated"
	case SystemDeactivated:
		return "Robot system deactivated"
	case AlreadyActive:
		return "Robot is already active"
	case AlreadyInactive:
		return "Robot is already inactive"
	case RejectedInactive:
		return "Robot is not active. Please activate the robot first."
	case StatusReport:
		return "Robot is active. Last command: " + r.Report
	case Executed:
		return executedMessage(r.Command)
	default:
		return "I don't understand that command. Try simple movement commands like 'move forward' or 'turn right'."
	}
}

func executedMessage(cmd protocol.Command) string {
	switch cmd.Kind {
	case protocol.KindForward:
		return "Moving forward"
	case protocol.KindBackward:
		return "Moving backward"
	case protocol.KindLeft:
		return "Turning left"
	case protocol.KindRight:
		return "Turning right"
	case protocol.KindStop:
		return "Stopped movement"
	case protocol.KindSpeedLevel:
		return fmt.Sprintf("Speed set to %d", cmd.Level)
	default:
		return fmt.Sprintf("Sent %v", cmd)
	}
}
