// Package compute owns the shared execution state for the depth-estimation
// kernels: worker-count selection, the memory budget that bounds how much
// volume data may be resident at once, and the parallel launch helpers.
package compute

import (
	"runtime"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// Options configures a Context. Zero values select defaults.
type Options struct {
	// MemoryBudget is the maximum number of bytes of volume/map data the
	// Context will allow to be reserved at once. Zero means unlimited.
	MemoryBudget int64
	// Workers overrides the worker count used by the parallel helpers.
	Workers int
}

// Context carries the execution configuration shared by all kernel launches
// of one run. It is safe for concurrent use. Buffers allocated against one
// Context should be consumed by stages using the same Context; mixing
// Contexts is reported as a warning, not an error, since results stay
// correct as long as the reservations are consistent.
type Context struct {
	logger golog.Logger

	workersOnce sync.Once
	workers     int
	optWorkers  int

	budget int64

	mu       sync.Mutex
	reserved int64
}

// NewContext returns a Context with the given options.
func NewContext(logger golog.Logger, opts Options) *Context {
	return &Context{
		logger:     logger,
		optWorkers: opts.Workers,
		budget:     opts.MemoryBudget,
	}
}

// Logger returns the logger the Context was created with.
func (c *Context) Logger() golog.Logger {
	return c.logger
}

// Workers returns the worker count used for kernel launches. The count is
// chosen once per Context, on first use.
func (c *Context) Workers() int {
	c.workersOnce.Do(func() {
		c.workers = c.optWorkers
		if c.workers <= 0 {
			c.workers = runtime.GOMAXPROCS(0)
		}
		if c.workers <= 0 {
			c.workers = 1
		}
	})
	return c.workers
}

// MemoryBudget returns the configured budget in bytes, zero if unlimited.
func (c *Context) MemoryBudget() int64 {
	return c.budget
}

// Reserve claims size bytes of the budget. It fails when the claim would
// exceed the budget; completed sibling reservations are unaffected.
func (c *Context) Reserve(size int64) error {
	if size < 0 {
		return errors.Errorf("cannot reserve negative size %d", size)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budget > 0 && c.reserved+size > c.budget {
		return errors.Errorf(
			"allocation of %d bytes exceeds memory budget (%d of %d bytes in use)",
			size, c.reserved, c.budget)
	}
	c.reserved += size
	return nil
}

// Release returns size bytes to the budget.
func (c *Context) Release(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved -= size
	if c.reserved < 0 {
		c.reserved = 0
	}
}

// Reserved returns the number of bytes currently claimed.
func (c *Context) Reserved() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserved
}

// WarnIfMismatched logs a warning when a buffer allocated on owner is being
// consumed through a different Context.
func (c *Context) WarnIfMismatched(owner *Context, stage string) {
	if owner != nil && owner != c && c.logger != nil {
		c.logger.Warnf("%s consuming a buffer owned by a different compute context", stage)
	}
}
