// Package protocol defines the single-byte command protocol spoken to the motor controller.
//
// Every command is exactly one byte on the wire. There is no framing, no checksum and no reply.
package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a command within the alphabet.
type Kind uint8

// The command kinds. The zero value is not a valid kind.
const (
	KindForward Kind = iota + 1
	KindBackward
	KindLeft
	KindRight
	KindStop
	KindToggleSystem
	KindStatusQuery
	KindSpeedLevel
)

// MaxSpeedLevel is the highest speed level the controller accepts.
const MaxSpeedLevel = 9

var (
	// ErrSpeedOutOfRange is returned when a speed level is above MaxSpeedLevel.
	ErrSpeedOutOfRange = errors.New("speed level out of range")
	// ErrUnknownCommand is returned when a byte does not decode to any command.
	ErrUnknownCommand = errors.New("unknown command byte")
)

// Command is a single command from the closed alphabet. Level is only meaningful for
// KindSpeedLevel.
type Command struct {
	Kind  Kind
	Level uint8
}

// The fixed commands.
var (
	Forward      = Command{Kind: KindForward}
	Backward     = Command{Kind: KindBackward}
	Left         = Command{Kind: KindLeft}
	Right        = Command{Kind: KindRight}
	Stop         = Command{Kind: KindStop}
	ToggleSystem = Command{Kind: KindToggleSystem}
	StatusQuery  = Command{Kind: KindStatusQuery}
)

var kindBytes = map[Kind]byte{
	KindForward:      'F',
	KindBackward:     'B',
	KindLeft:         'L',
	KindRight:        'R',
	KindStop:         'S',
	KindToggleSystem: 'X',
	KindStatusQuery:  '?',
}

var kindNames = map[Kind]string{
	KindForward:      "Forward",
	KindBackward:     "Backward",
	KindLeft:         "Left",
	KindRight:        "Right",
	KindStop:         "Stop",
	KindToggleSystem: "ToggleSystem",
	KindStatusQuery:  "StatusQuery",
}

// SpeedLevel returns the command that sets the speed to level.
func SpeedLevel(level uint8) (Command, error) {
	if level > MaxSpeedLevel {
		return Command{}, errors.Wrapf(ErrSpeedOutOfRange, "level %d, acceptable values are 0 thru %d", level, MaxSpeedLevel)
	}
	return Command{Kind: KindSpeedLevel, Level: level}, nil
}

// Byte returns the wire encoding of the command.
func (c Command) Byte() byte {
	if c.Kind == KindSpeedLevel {
		return '0' + c.Level
	}
	return kindBytes[c.Kind]
}

// IsTracked reports whether sending the command should be remembered as the last command.
// Movement, stop and speed commands are tracked; status queries and toggles are not.
func (c Command) IsTracked() bool {
	switch c.Kind {
	case KindForward, KindBackward, KindLeft, KindRight, KindStop, KindSpeedLevel:
		return true
	default:
		return false
	}
}

// Valid reports whether the command is a member of the alphabet.
func (c Command) Valid() bool {
	if c.Kind == KindSpeedLevel {
		return c.Level <= MaxSpeedLevel
	}
	_, ok := kindBytes[c.Kind]
	return ok && c.Level == 0
}

func (c Command) String() string {
	if c.Kind == KindSpeedLevel {
		return fmt.Sprintf("SpeedLevel(%d)", c.Level)
	}
	if name, ok := kindNames[c.Kind]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", c.Kind)
}

// Decode returns the command encoded by b. Letters are accepted in either case.
func Decode(b byte) (Command, error) {
	if b >= '0' && b <= '9' {
		return Command{Kind: KindSpeedLevel, Level: b - '0'}, nil
	}
	if b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	for kind, encoded := range kindBytes {
		if encoded == b {
			return Command{Kind: kind}, nil
		}
	}
	return Command{}, errors.Wrapf(ErrUnknownCommand, "%q (0x%02X)", b, b)
}

// Alphabet returns every command, fixed commands first followed by the speed levels in order.
func Alphabet() []Command {
	all := []Command{Forward, Backward, Left, Right, Stop, ToggleSystem, StatusQuery}
	for level := uint8(0); level <= MaxSpeedLevel; level++ {
		all = append(all, Command{Kind: KindSpeedLevel, Level: level})
	}
	return all
}
