// Package chain implements the shift-through addressing of daisy chained
// MAX6966 cards sharing one chip select line.
//
// The cards form one long shift register. A frame sent first ends up in the
// card next to the bus master; every following frame pushes it one card
// further up. Bringing chip select high latches whatever frame each card holds
// at that moment. No-op frames are latched by nobody, so they are used to
// position a frame before the latch and to drain it past the upper cards
// afterwards. Since MISO of the top card is wired back to the master, the
// drained frame comes back and serves as the only acknowledgement.
package chain

import (
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// DefaultMaxDetectCycles bounds the chain length detection.
const DefaultMaxDetectCycles = 9

// ChipSelect is the shared CS output. Low selects all cards.
type ChipSelect interface {
	Low()
	High()
}

// RecordKind tells transactions and length detections apart.
type RecordKind int

const (
	KindTransact RecordKind = iota
	KindDetect
)

func (k RecordKind) String() string {
	if k == KindDetect {
		return "detect"
	}
	return "transact"
}

// Record describes one finished bus cycle, from CS low to CS high. Addr is
// only set for transactions, Expected and Detected only for detections.
type Record struct {
	Time     time.Time
	Kind     RecordKind
	Addr     Address
	Sent     Frame
	Echo     Frame
	Expected int
	Detected int
	Err      error
}

// Tracer receives a Record per bus cycle. It must not touch the line.
type Tracer interface {
	Trace(r Record)
}

// Line is one chip select line together with the SPI bus it selects. It is
// safe for concurrent use; a whole bus cycle runs under the line's lock so
// cycles never interleave.
type Line struct {
	mu        sync.Mutex
	bus       drivers.SPI
	cs        ChipSelect
	tracer    Tracer
	maxCycles int

	calDone  bool
	calErr   error
	detected int
}

// Option configures a Line.
type Option func(*Line)

// WithTracer attaches a diagnostics sink.
func WithTracer(t Tracer) Option {
	return func(l *Line) { l.tracer = t }
}

// WithMaxDetectCycles changes the number of no-op cycles the length detection
// waits for the sentinel.
func WithMaxDetectCycles(n int) Option {
	return func(l *Line) {
		if n > 0 {
			l.maxCycles = n
		}
	}
}

// NewLine creates a line and drives chip select to its idle (high) level.
func NewLine(bus drivers.SPI, cs ChipSelect, opts ...Option) *Line {
	l := &Line{
		bus:       bus,
		cs:        cs,
		maxCycles: DefaultMaxDetectCycles,
	}
	for _, opt := range opts {
		opt(l)
	}
	cs.High()
	return l
}

// MaxDetectCycles returns the detection bound.
func (l *Line) MaxDetectCycles() int {
	return l.maxCycles
}

// Transact writes f to the card at addr and reports whether the frame came
// back after draining the chain. A mismatch is returned as *EchoMismatchError.
// An invalid address is rejected before the bus is touched.
func (l *Line) Transact(addr Address, f Frame) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	echo, err := l.transact(addr, f)
	l.trace(Record{Kind: KindTransact, Addr: addr, Sent: f, Echo: echo, Err: err})
	return err
}

func (l *Line) transact(addr Address, f Frame) (Frame, error) {
	l.cs.Low()
	defer l.cs.High()

	echo, err := l.exchange(f)
	if err != nil {
		return echo, err
	}
	// push the frame up to the addressed card
	for i := 1; i < addr.position; i++ {
		if _, err := l.exchange(NoOp); err != nil {
			return echo, err
		}
	}
	// latch, then keep shifting to drain the frame past the upper cards
	l.cs.High()
	l.cs.Low()
	for i := addr.position; i <= addr.total; i++ {
		if echo, err = l.exchange(NoOp); err != nil {
			return echo, err
		}
	}
	if echo != f {
		return echo, &EchoMismatchError{Addr: addr, Sent: f, Echo: echo}
	}
	return echo, nil
}

// DetectCount counts the cards on the line by injecting the sentinel and
// counting no-op cycles until it comes back. The count is returned together
// with *LengthMismatchError if it differs from expected, or *NotFoundError if
// the sentinel did not show up within the detection bound.
//
// Chip select stays low the whole time, so nothing is latched.
func (l *Line) DetectCount(expected int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detect(expected)
}

func (l *Line) detect(expected int) (int, error) {
	n, echo, err := l.detectCycles(expected)
	l.trace(Record{Kind: KindDetect, Expected: expected, Sent: Sentinel, Echo: echo, Detected: n, Err: err})
	return n, err
}

func (l *Line) detectCycles(expected int) (int, Frame, error) {
	l.cs.Low()
	defer l.cs.High()

	echo, err := l.exchange(Sentinel)
	if err != nil {
		return 0, echo, err
	}
	for j := 1; j <= l.maxCycles; j++ {
		if echo, err = l.exchange(NoOp); err != nil {
			return 0, echo, err
		}
		if echo == Sentinel {
			if j != expected {
				return j, echo, &LengthMismatchError{Expected: expected, Detected: j}
			}
			return j, echo, nil
		}
	}
	return 0, echo, &NotFoundError{Cycles: l.maxCycles}
}

// Calibrate runs DetectCount once per line and caches the outcome. Later
// calls return the cached result, checked against their own expectation.
func (l *Line) Calibrate(expected int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.calDone {
		l.detected, l.calErr = l.detect(expected)
		l.calDone = true
		return l.calErr
	}
	if l.calErr == nil && l.detected != expected {
		return &LengthMismatchError{Expected: expected, Detected: l.detected}
	}
	return l.calErr
}

// Calibrated reports whether Calibrate ran and confirmed the chain length.
func (l *Line) Calibrated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calDone && l.calErr == nil
}

// Detected returns the chain length found by Calibrate, 0 if unknown.
func (l *Line) Detected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detected
}

func (l *Line) exchange(f Frame) (Frame, error) {
	cmd, err := l.bus.Transfer(f.Cmd)
	if err != nil {
		return Frame{}, fmt.Errorf("spi transfer of command byte failed: %w", err)
	}
	data, err := l.bus.Transfer(f.Data)
	if err != nil {
		return Frame{Cmd: cmd}, fmt.Errorf("spi transfer of data byte failed: %w", err)
	}
	return Frame{Cmd: cmd, Data: data}, nil
}

func (l *Line) trace(r Record) {
	if l.tracer == nil {
		return
	}
	r.Time = time.Now()
	l.tracer.Trace(r)
}
