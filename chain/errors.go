package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrEchoMismatch indicates the bus round trip did not return the frame
	// that was sent. It is an expected outcome, callers decide whether to retry.
	ErrEchoMismatch = errors.New("echo mismatch")
	// ErrLengthMismatch indicates the detected chain length differs from the
	// configured one.
	ErrLengthMismatch = errors.New("chain length mismatch")
	// ErrNotFound indicates the sentinel never came back.
	ErrNotFound = errors.New("chain length not found")
	// ErrInvalidAddress is returned when constructing an address outside the chain.
	ErrInvalidAddress = errors.New("invalid chain address")
)

// EchoMismatchError carries the frame sent and the frame read back.
type EchoMismatchError struct {
	Addr Address
	Sent Frame
	Echo Frame
}

// Error implements error.
func (e *EchoMismatchError) Error() string {
	return fmt.Sprintf("echo mismatch on card %s: sent %s, got %s", e.Addr, e.Sent, e.Echo)
}

func (e *EchoMismatchError) Unwrap() error { return ErrEchoMismatch }

// LengthMismatchError carries both chain lengths.
type LengthMismatchError struct {
	Expected int
	Detected int
}

// Error implements error.
func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("chain length mismatch: configured %d, detected %d", e.Expected, e.Detected)
}

func (e *LengthMismatchError) Unwrap() error { return ErrLengthMismatch }

// NotFoundError reports how many no-op cycles were spent looking for the sentinel.
type NotFoundError struct {
	Cycles int
}

// Error implements error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("chain length not found: no sentinel echo within %d cycles", e.Cycles)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
