// Package progress provides the minimal counter/printer abstractions that
// planners and executors report through. Rendering (TTY bars, JSON status
// lines) is out of scope for this core; callers supply an implementation.
package progress

import "sync/atomic"

// Counter is a monotonically increasing progress counter. The zero value is
// usable; a nil *Counter is also safe to call its methods on (no-op), which lets
// internal packages thread an optional counter without nil-checking at every
// call site.
type Counter struct {
	value atomic.Uint64
	total atomic.Uint64
}

// Add increments the counter by delta.
func (c *Counter) Add(delta uint64) {
	if c == nil {
		return
	}
	c.value.Add(delta)
}

// SetTotal records the expected final value, for printers that show a ratio.
func (c *Counter) SetTotal(total uint64) {
	if c == nil {
		return
	}
	c.total.Store(total)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	if c == nil {
		return 0
	}
	return c.value.Load()
}

// Total returns the expected final count, or 0 if unset.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}

// Printer receives textual status updates from long-running operations.
// NoopPrinter discards everything and is the default in tests.
type Printer interface {
	Print(msg string)
	Warn(msg string)
	Error(msg string)
}

// NoopPrinter implements Printer by discarding all output.
type NoopPrinter struct{}

func (NoopPrinter) Print(string)  {}
func (NoopPrinter) Warn(string)   {}
func (NoopPrinter) Error(string)  {}

// NewCounter returns a Counter; p may be nil.
func NewCounter(p Printer) *Counter {
	return &Counter{}
}
