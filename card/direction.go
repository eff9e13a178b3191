package card

import (
	"fmt"
	"strings"

	"lautenbacher.net/spimotor/max6966"
)

// Direction is the logical state of one motor.
type Direction int

const (
	Stop  Direction = iota // free wheel
	CW
	CCW
	Brake // short circuit brake
)

var directionNames = [...]string{"stop", "cw", "ccw", "brake"}

func (d Direction) String() string {
	if d < Stop || d > Brake {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// ParseDirection accepts the names printed by String, in any case.
func ParseDirection(s string) (Direction, error) {
	for i, n := range directionNames {
		if strings.EqualFold(s, n) {
			return Direction(i), nil
		}
	}
	return Stop, fmt.Errorf("unknown direction %q (want stop, cw, ccw or brake)", s)
}

// Pins returns the IN1/IN2 levels of the TB6612FNG for d. The pattern is the
// same for both channels.
func Pins(d Direction) (in1, in2 byte) {
	switch d {
	case Brake:
		return max6966.High, max6966.High
	case CW:
		return max6966.High, max6966.Low
	case CCW:
		return max6966.Low, max6966.High
	default:
		return max6966.Low, max6966.Low
	}
}

// DirectionOf is the inverse of Pins. Any non-zero level counts as high.
func DirectionOf(in1, in2 byte) Direction {
	switch {
	case in1 != 0 && in2 != 0:
		return Brake
	case in1 != 0:
		return CW
	case in2 != 0:
		return CCW
	default:
		return Stop
	}
}

// Channel selects one of the two H-bridges of a card.
type Channel int

const (
	A Channel = iota
	B
)

func (c Channel) String() string {
	if c == B {
		return "B"
	}
	return "A"
}

// ParseChannel accepts "A" or "B", in any case.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return A, nil
	case "B":
		return B, nil
	}
	return A, fmt.Errorf("unknown channel %q (want A or B)", s)
}

// Registers returns the input and PWM registers driving channel c.
func Registers(c Channel) (in1, in2, pwm max6966.Register) {
	if c == B {
		return max6966.BIN1, max6966.BIN2, max6966.PWMB
	}
	return max6966.AIN1, max6966.AIN2, max6966.PWMA
}
