package chain

import (
	"fmt"

	"lautenbacher.net/spimotor/max6966"
)

// Frame is one (command, data) byte pair as shifted through a MAX6966.
type Frame struct {
	Cmd  byte
	Data byte
}

// NoOp is the frame used to pad and drain the chain.
var NoOp = Frame{Cmd: byte(max6966.NoOp), Data: max6966.NoOpData}

// Sentinel is the frame injected by the chain length detection.
var Sentinel = Frame{Cmd: max6966.SentinelCmd, Data: max6966.SentinelData}

// Write returns the frame writing value to register r.
func Write(r max6966.Register, value byte) Frame {
	return Frame{Cmd: byte(r), Data: value}
}

func (f Frame) String() string {
	return fmt.Sprintf("%s=0x%02x", max6966.Register(f.Cmd), f.Data)
}

// Address locates one card in the chain. Position 1 is the card next to the
// bus master, Total is the number of cards sharing the chip select line. The
// zero Address is invalid; use NewAddress.
type Address struct {
	position int
	total    int
}

// NewAddress returns a validated address.
func NewAddress(position, total int) (Address, error) {
	a := Address{position: position, total: total}
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

// Position returns the card's place in the chain, starting at 1.
func (a Address) Position() int { return a.position }

// Total returns the number of cards in the chain.
func (a Address) Total() int { return a.total }

// Validate checks 1 <= Position <= Total.
func (a Address) Validate() error {
	if a.total < 1 || a.position < 1 || a.position > a.total {
		return fmt.Errorf("%w: position %d of %d", ErrInvalidAddress, a.position, a.total)
	}
	return nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d", a.position, a.total)
}
