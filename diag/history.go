// Package diag keeps a bounded history of bus cycles for field debugging.
package diag

import (
	"log/slog"
	"sync"

	"github.com/gammazero/deque"
	"lautenbacher.net/spimotor/chain"
)

const defaultDepth = 64

// History implements chain.Tracer. It retains the most recent records and
// logs every record at debug level.
type History struct {
	mu      sync.Mutex
	records deque.Deque[chain.Record]
	depth   int
	logger  *slog.Logger
}

// NewHistory creates a History keeping at most depth records.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = defaultDepth
	}
	h := &History{depth: depth, logger: slog.Default()}
	h.records.Grow(depth)
	return h
}

// Trace stores r, dropping the oldest record when full.
func (h *History) Trace(r chain.Record) {
	h.mu.Lock()
	h.records.PushBack(r)
	if h.records.Len() > h.depth {
		h.records.PopFront()
	}
	h.mu.Unlock()

	if r.Kind == chain.KindDetect {
		h.logger.Debug("chain length detection", "expected", r.Expected, "detected", r.Detected, "echo", r.Echo.String(), "error", r.Err)
		return
	}
	h.logger.Debug("spi transaction", "card", r.Addr.String(), "sent", r.Sent.String(), "echo", r.Echo.String(), "error", r.Err)
}

// Records returns a copy of the retained records, oldest first.
func (h *History) Records() []chain.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	ret := make([]chain.Record, h.records.Len())
	for i := range ret {
		ret[i] = h.records.At(i)
	}
	return ret
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records.Len()
}

// Failures counts the retained records carrying an error.
func (h *History) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for i := 0; i < h.records.Len(); i++ {
		if h.records.At(i).Err != nil {
			n++
		}
	}
	return n
}
