// Package sim models a chain of MAX6966 cards in software. It stands in for
// the SPI bus and the chip select pin, both in tests and in the simulation
// backend.
package sim

import (
	"sync"

	"lautenbacher.net/spimotor/max6966"
)

// EventKind classifies the bus activity recorded by a Chain.
type EventKind int

const (
	Select EventKind = iota
	Deselect
	Exchange
)

func (k EventKind) String() string {
	switch k {
	case Select:
		return "select"
	case Deselect:
		return "deselect"
	default:
		return "exchange"
	}
}

// Event is one step on the simulated bus.
type Event struct {
	Kind     EventKind
	Sent     byte
	Received byte
}

// Latch is one register update taking effect on a card.
type Latch struct {
	Reg   max6966.Register
	Value byte
}

// idle is what the master reads from a line nobody drives.
const idle byte = 0xFF

type board struct {
	newer  byte
	older  byte
	broken bool
	regs   map[max6966.Register]byte
	hist   []Latch
}

// Chain is a simulated stack of cards. Position 1 receives MOSI, the top card
// drives MISO.
type Chain struct {
	mu       sync.Mutex
	boards   []*board
	selected bool
	events   []Event
	onLatch  func(position int, l Latch)
}

// Option configures a Chain.
type Option func(*Chain)

// WithBrokenBoard makes the card at position drive its output high all the
// time, like a card whose DOUT lost contact.
func WithBrokenBoard(position int) Option {
	return func(c *Chain) {
		if position >= 1 && position <= len(c.boards) {
			c.boards[position-1].broken = true
		}
	}
}

// WithLatchHook registers fn to be called for every register update. It is
// called without the chain's lock held.
func WithLatchHook(fn func(position int, l Latch)) Option {
	return func(c *Chain) { c.onLatch = fn }
}

// New creates a chain of n cards with all shift registers cleared.
func New(n int, opts ...Option) *Chain {
	c := &Chain{boards: make([]*board, n)}
	for i := range c.boards {
		c.boards[i] = &board{regs: make(map[max6966.Register]byte)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Boards returns the number of simulated cards.
func (c *Chain) Boards() int {
	return len(c.boards)
}

// Transfer shifts one byte in at the bottom and returns the byte leaving the
// top card. Without chip select nothing moves and the line reads idle.
func (c *Chain) Transfer(b byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.selected || len(c.boards) == 0 {
		c.events = append(c.events, Event{Kind: Exchange, Sent: b, Received: idle})
		return idle, nil
	}
	in := b
	for _, brd := range c.boards {
		out := brd.older
		brd.older = brd.newer
		brd.newer = in
		if brd.broken {
			out = idle
		}
		in = out
	}
	c.events = append(c.events, Event{Kind: Exchange, Sent: b, Received: in})
	return in, nil
}

// Tx transfers w byte by byte, storing the received bytes in r if it is not nil.
func (c *Chain) Tx(w, r []byte) error {
	for i, b := range w {
		got, err := c.Transfer(b)
		if err != nil {
			return err
		}
		if i < len(r) {
			r[i] = got
		}
	}
	return nil
}

// Low asserts chip select.
func (c *Chain) Low() {
	c.mu.Lock()
	c.selected = true
	c.events = append(c.events, Event{Kind: Select})
	c.mu.Unlock()
}

// High releases chip select. On the rising edge every card latches the frame
// it holds, unless it is a no-op.
func (c *Chain) High() {
	type update struct {
		position int
		latch    Latch
	}
	var updates []update

	c.mu.Lock()
	if c.selected {
		for i, brd := range c.boards {
			reg := max6966.Register(brd.older)
			if reg == max6966.NoOp {
				continue
			}
			l := Latch{Reg: reg, Value: brd.newer}
			brd.regs[reg] = l.Value
			brd.hist = append(brd.hist, l)
			updates = append(updates, update{position: i + 1, latch: l})
		}
	}
	c.selected = false
	c.events = append(c.events, Event{Kind: Deselect})
	hook := c.onLatch
	c.mu.Unlock()

	if hook != nil {
		for _, u := range updates {
			hook(u.position, u.latch)
		}
	}
}

// held returns the frame currently sitting in the shift register of the card.
func (c *Chain) held(position int) (cmd, data byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	brd := c.boards[position-1]
	return brd.older, brd.newer
}

// Register returns the latched value of r on the card at position.
func (c *Chain) Register(position int, r max6966.Register) (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.boards[position-1].regs[r]
	return v, ok
}

// Registers returns a copy of all latched registers of the card at position.
func (c *Chain) Registers(position int) map[max6966.Register]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.boards[position-1].regs
	ret := make(map[max6966.Register]byte, len(src))
	for k, v := range src {
		ret[k] = v
	}
	return ret
}

// Latches returns the register updates of the card at position, oldest first.
func (c *Chain) Latches(position int) []Latch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Latch(nil), c.boards[position-1].hist...)
}

// Events returns the recorded bus activity.
func (c *Chain) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// ResetEvents clears the event log and the latch histories.
func (c *Chain) ResetEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	for _, brd := range c.boards {
		brd.hist = nil
	}
}
