// Package stepper runs a bipolar stepper motor on the two channels of one
// motor card, coil 1 on channel A and coil 2 on channel B.
package stepper

import (
	"errors"
	"sync"

	"lautenbacher.net/spimotor/card"
	"lautenbacher.net/spimotor/max6966"
)

type pinWrite struct {
	reg   max6966.Register
	value byte
}

// phases holds AIN1, AIN2, BIN1, BIN2 per full step.
var phases = [4][4]byte{
	{1, 0, 0, 1},
	{0, 1, 0, 1},
	{0, 1, 1, 0},
	{1, 0, 1, 0},
}

// Moving one step only flips one coil. The low write always comes first.
var forward = [4][2]pinWrite{
	{{max6966.BIN1, 0}, {max6966.BIN2, 1}},
	{{max6966.AIN1, 0}, {max6966.AIN2, 1}},
	{{max6966.BIN2, 0}, {max6966.BIN1, 1}},
	{{max6966.AIN2, 0}, {max6966.AIN1, 1}},
}

var backward = [4][2]pinWrite{
	{{max6966.AIN2, 0}, {max6966.AIN1, 1}},
	{{max6966.BIN1, 0}, {max6966.BIN2, 1}},
	{{max6966.AIN1, 0}, {max6966.AIN2, 1}},
	{{max6966.BIN2, 0}, {max6966.BIN1, 1}},
}

// Writer is the part of card.Card the sequencer needs.
type Writer interface {
	Write(r max6966.Register, value byte) error
	SetSpeed(ch card.Channel, duty uint8) error
}

// Stepper remembers the last step to send only the coil that changes.
type Stepper struct {
	mu   sync.Mutex
	w    Writer
	prev uint32
}

// New creates a sequencer on w, normally a *card.Card.
func New(w Writer) *Stepper {
	return &Stepper{w: w}
}

// Step moves to the absolute step number. Neighbouring steps update one coil,
// any other jump rewrites all four inputs.
func (s *Stepper) Step(step uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phase := step % 4
	var writes []pinWrite
	switch step {
	case s.prev + 1:
		writes = forward[phase][:]
	case s.prev - 1:
		writes = backward[phase][:]
	default:
		p := phases[phase]
		writes = []pinWrite{
			{max6966.AIN1, p[0]},
			{max6966.AIN2, p[1]},
			{max6966.BIN1, p[2]},
			{max6966.BIN2, p[3]},
		}
	}
	s.prev = step

	errs := make([]error, 0, len(writes))
	for _, pw := range writes {
		errs = append(errs, s.w.Write(pw.reg, pw.value))
	}
	return errors.Join(errs...)
}

// SetSpeed sets the coil current of both coils.
func (s *Stepper) SetSpeed(duty uint8) error {
	return errors.Join(s.w.SetSpeed(card.A, duty), s.w.SetSpeed(card.B, duty))
}

// StepWithSpeed sets the coil current, then moves.
func (s *Stepper) StepWithSpeed(step uint32, duty uint8) error {
	return errors.Join(s.SetSpeed(duty), s.Step(step))
}

// Position returns the last step number sent.
func (s *Stepper) Position() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}
