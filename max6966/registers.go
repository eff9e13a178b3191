// Package max6966 holds the register addresses of the MAX6966 port expander as
// wired on the dual DC motor card (TB6612FNG inputs on ports P0..P9).
package max6966

import "fmt"

// Register is the command byte of a frame.
type Register byte

const (
	AIN2   Register = 0x00 // P0
	AIN1   Register = 0x01 // P1
	STBY   Register = 0x02 // P2, low puts the TB6612FNG in standby
	BIN1   Register = 0x03 // P3
	BIN2   Register = 0x04 // P4
	PWMB   Register = 0x05 // P5
	PWMA   Register = 0x09 // P9
	Config Register = 0x10
	// NoOp is latched by no chip. It is used to pump frames through the chain.
	NoOp Register = 0x20
)

// NoOpData is the data byte sent together with NoOp.
const NoOpData byte = 0x00

// Sentinel pair used for chain length detection. Neither byte combination is
// ever issued by a register write.
const (
	SentinelCmd  byte = 0x55
	SentinelData byte = 0xF0
)

// Port output values. A port register value between PWMMin and PWMMax drives
// the port with the 32kHz PWM, 0 and 1 are static levels.
const (
	Low    byte = 0x00
	High   byte = 0x01
	PWMMin byte = 3
	PWMMax byte = 254
)

var names = map[Register]string{
	AIN2:   "AIN2",
	AIN1:   "AIN1",
	STBY:   "STBY",
	BIN1:   "BIN1",
	BIN2:   "BIN2",
	PWMB:   "PWMB",
	PWMA:   "PWMA",
	Config: "CONFIG",
	NoOp:   "NOOP",
}

func (r Register) String() string {
	if n, ok := names[r]; ok {
		return n
	}
	return fmt.Sprintf("REG(0x%02x)", byte(r))
}

// Registers returns the registers driven by the motor card, in port order.
func Registers() []Register {
	return []Register{AIN2, AIN1, STBY, BIN1, BIN2, PWMB, PWMA, Config}
}
