package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"lautenbacher.net/spimotor/card"
	"lautenbacher.net/spimotor/status"
)

// Controller is what the bridge needs from a motor card.
type Controller interface {
	Name() string
	SetDirection(ch card.Channel, d card.Direction) error
	SetSpeed(ch card.Channel, duty uint8) error
	SetDirectionAndSpeed(ch card.Channel, d card.Direction, duty uint8) error
	Standby() error
	Resume() error
	State() status.Card
}

// Operations accepted in Command.Op.
const (
	OpDrive     = "drive"
	OpSpeed     = "speed"
	OpDirection = "direction"
	OpStandby   = "standby"
	OpResume    = "resume"
)

// Command is the JSON payload of a cmd topic.
type Command struct {
	Op        string `json:"op"`
	Channel   string `json:"channel,omitempty"`
	Direction string `json:"direction,omitempty"`
	Speed     *int   `json:"speed,omitempty"`
}

// action is a validated Command.
type action struct {
	op   string
	ch   card.Channel
	dir  card.Direction
	duty uint8
}

// ParseCommand decodes and validates a payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("bad command payload: %w", err)
	}
	_, err := cmd.validate()
	return cmd, err
}

func (cmd Command) validate() (action, error) {
	a := action{op: cmd.Op}
	needChannel, needDir, needSpeed := false, false, false
	switch cmd.Op {
	case OpDrive:
		needChannel, needDir, needSpeed = true, true, true
	case OpSpeed:
		needChannel, needSpeed = true, true
	case OpDirection:
		needChannel, needDir = true, true
	case OpStandby, OpResume:
	default:
		return a, fmt.Errorf("unknown op %q", cmd.Op)
	}

	var errs []error
	var err error
	if needChannel {
		if a.ch, err = card.ParseChannel(cmd.Channel); err != nil {
			errs = append(errs, err)
		}
	}
	if needDir {
		if a.dir, err = card.ParseDirection(cmd.Direction); err != nil {
			errs = append(errs, err)
		}
	}
	if needSpeed {
		switch {
		case cmd.Speed == nil:
			errs = append(errs, errors.New("speed missing"))
		case *cmd.Speed < 0 || *cmd.Speed > 255:
			errs = append(errs, fmt.Errorf("speed must be between 0 and 255, got %d", *cmd.Speed))
		default:
			a.duty = uint8(*cmd.Speed)
		}
	}
	return a, errors.Join(errs...)
}

// Apply runs the command on c.
func (cmd Command) Apply(c Controller) error {
	a, err := cmd.validate()
	if err != nil {
		return err
	}
	switch a.op {
	case OpDrive:
		return c.SetDirectionAndSpeed(a.ch, a.dir, a.duty)
	case OpSpeed:
		return c.SetSpeed(a.ch, a.duty)
	case OpDirection:
		return c.SetDirection(a.ch, a.dir)
	case OpStandby:
		return c.Standby()
	default:
		return c.Resume()
	}
}
