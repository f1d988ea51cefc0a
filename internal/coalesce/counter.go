package coalesce

import (
	"log/slog"
	"sync"
)

// PendingCounter counts in-flight writes for one room. Inc and Dec are the
// only ways to change it; it never goes below zero.
type PendingCounter struct {
	mu        sync.Mutex
	n         int
	underflow int
	logger    *slog.Logger
	onChange  func(int)
}

// NewPendingCounter creates a counter at zero. onChange, if non-nil, is
// called with the new value after every change.
func NewPendingCounter(logger *slog.Logger, onChange func(int)) *PendingCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingCounter{logger: logger, onChange: onChange}
}

// Inc records a dispatched write.
func (c *PendingCounter) Inc() {
	c.mu.Lock()
	c.n++
	n := c.n
	c.mu.Unlock()
	c.changed(n)
}

// Dec records a settled write. A decrement without a matching increment is
// logged and ignored.
func (c *PendingCounter) Dec() {
	c.mu.Lock()
	if c.n == 0 {
		c.underflow++
		c.mu.Unlock()
		c.logger.Error("pending write counter underflow")
		return
	}
	c.n--
	n := c.n
	c.mu.Unlock()
	c.changed(n)
}

// Value returns the number of writes in flight.
func (c *PendingCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Idle reports whether no writes are in flight.
func (c *PendingCounter) Idle() bool {
	return c.Value() == 0
}

// Underflows returns how many unmatched decrements were ignored.
func (c *PendingCounter) Underflows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.underflow
}

func (c *PendingCounter) changed(n int) {
	if c.onChange != nil {
		c.onChange(n)
	}
}
