// Package card drives one dual DC motor card: a MAX6966 port expander in front
// of a TB6612FNG H-bridge, addressed through a shared chain.Line.
package card

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lautenbacher.net/spimotor/chain"
	"lautenbacher.net/spimotor/max6966"
	"lautenbacher.net/spimotor/status"
)

// ErrNotReady is returned by every operation before Begin succeeded.
var ErrNotReady = errors.New("card not ready, chain length not confirmed")

// Options describe one card. Position and Total come from the solder jumpers
// and the number of stacked cards.
type Options struct {
	Name      string
	Position  int
	Total     int
	InvertPWM bool
	// Status receives the logical state after every operation. Optional.
	Status *status.Hub
}

// Card is the logical API of one motor card.
type Card struct {
	line      *chain.Line
	addr      chain.Address
	name      string
	invertPWM bool
	hub       *status.Hub

	mu    sync.Mutex
	ready bool
	state status.Card
	// last written IN1/IN2 levels per channel
	pins [2][2]byte
}

// New validates the card's place in the chain. It does not touch the bus.
func New(line *chain.Line, opts Options) (*Card, error) {
	addr, err := chain.NewAddress(opts.Position, opts.Total)
	if err != nil {
		return nil, fmt.Errorf("card %q: %w", opts.Name, err)
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("card%d", opts.Position)
	}
	return &Card{
		line:      line,
		addr:      addr,
		name:      opts.Name,
		invertPWM: opts.InvertPWM,
		hub:       opts.Status,
		state: status.Card{
			Name:     opts.Name,
			Position: opts.Position,
			A:        status.Motor{Direction: Stop.String()},
			B:        status.Motor{Direction: Stop.String()},
		},
	}, nil
}

// Name returns the configured card name.
func (c *Card) Name() string { return c.name }

// Address returns the card's place in the chain.
func (c *Card) Address() chain.Address { return c.addr }

// Begin confirms the chain length. The detection runs once per line, all
// cards sharing the line get the same answer.
func (c *Card) Begin() error {
	err := c.line.Calibrate(c.addr.Total())
	c.mu.Lock()
	c.ready = err == nil
	c.state.Ready = c.ready
	c.mu.Unlock()
	c.publish(err)
	if err != nil {
		return fmt.Errorf("card %q: %w", c.name, err)
	}
	slog.Info("Motor card ready", "card", c.name, "position", c.addr.String())
	return nil
}

// Ready reports whether Begin succeeded.
func (c *Card) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Write sends one raw register write. Most callers want the motor functions.
// Writes to the H-bridge inputs update the channel's direction in the state.
func (c *Card) Write(r max6966.Register, value byte) error {
	if !c.Ready() {
		return ErrNotReady
	}
	err := c.line.Transact(c.addr, chain.Write(r, value))
	if ch, idx, ok := pinOf(r); ok && err == nil {
		c.update(func(s *status.Card) {
			c.pins[ch][idx] = value
			motorOf(s, ch).Direction = DirectionOf(c.pins[ch][0], c.pins[ch][1]).String()
		})
	}
	c.publish(err)
	return err
}

// SetDirection sets the control pins of channel ch, keeping the PWM value.
// Both pin writes are attempted.
func (c *Card) SetDirection(ch Channel, d Direction) error {
	if !c.Ready() {
		return ErrNotReady
	}
	in1, in2 := Pins(d)
	r1, r2, _ := Registers(ch)
	err := errors.Join(
		c.line.Transact(c.addr, chain.Write(r1, in1)),
		c.line.Transact(c.addr, chain.Write(r2, in2)),
	)
	if err == nil {
		c.update(func(s *status.Card) {
			c.pins[ch] = [2]byte{in1, in2}
			motorOf(s, ch).Direction = d.String()
		})
	}
	c.publish(err)
	return err
}

// SetSpeed changes only the PWM register of channel ch.
func (c *Card) SetSpeed(ch Channel, duty uint8) error {
	if !c.Ready() {
		return ErrNotReady
	}
	_, _, pwm := Registers(ch)
	err := c.line.Transact(c.addr, chain.Write(pwm, PWMRegister(duty, c.invertPWM)))
	if err == nil {
		c.update(func(s *status.Card) { motorOf(s, ch).Speed = duty })
	}
	c.publish(err)
	return err
}

// SetDirectionAndSpeed sets direction and speed of channel ch. The speed is
// written even if the direction failed.
func (c *Card) SetDirectionAndSpeed(ch Channel, d Direction, duty uint8) error {
	return errors.Join(c.SetDirection(ch, d), c.SetSpeed(ch, duty))
}

// Standby puts the H-bridge and the port expander into low power mode.
func (c *Card) Standby() error {
	return c.power(max6966.Low)
}

// Resume returns both chips to normal operation.
func (c *Card) Resume() error {
	return c.power(max6966.High)
}

func (c *Card) power(level byte) error {
	if !c.Ready() {
		return ErrNotReady
	}
	err := errors.Join(
		c.line.Transact(c.addr, chain.Write(max6966.STBY, level)),
		c.line.Transact(c.addr, chain.Write(max6966.Config, level)),
	)
	if err == nil {
		c.update(func(s *status.Card) { s.Standby = level == max6966.Low })
	}
	c.publish(err)
	return err
}

// State returns the logical state as last commanded.
func (c *Card) State() status.Card {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Card) update(fn func(s *status.Card)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}

func (c *Card) publish(err error) {
	c.mu.Lock()
	if err != nil {
		c.state.Error = err.Error()
	} else {
		c.state.Error = ""
	}
	c.state.Updated = time.Now()
	s := c.state
	c.mu.Unlock()
	if c.hub != nil {
		c.hub.Publish(s)
	}
}

// pinOf finds the channel and input index (0 for IN1, 1 for IN2) driven by r.
func pinOf(r max6966.Register) (Channel, int, bool) {
	for _, ch := range []Channel{A, B} {
		in1, in2, _ := Registers(ch)
		switch r {
		case in1:
			return ch, 0, true
		case in2:
			return ch, 1, true
		}
	}
	return A, 0, false
}

func motorOf(s *status.Card, ch Channel) *status.Motor {
	if ch == B {
		return &s.B
	}
	return &s.A
}
