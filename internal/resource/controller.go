package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// memory budget.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes bounds the bytes held by resident cache pages.
	// If 0, usage is tracked but not limited.
	MemoryLimitBytes int64

	// MaxWorkers is the number of concurrent snapshot chunk jobs.
	// If 0, defaults to 1.
	MaxWorkers int64

	// IOLimitBytesPerSec throttles snapshot uploads and downloads.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller enforces the memory budget, worker slots and IO rate shared by
// the caches and background jobs of one process.
//
// A nil *Controller is valid and imposes no limits.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	workers *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	c := &Controller{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// TryAcquireMemory reserves bytes without blocking. It reports false if the
// budget is exhausted; callers are expected to free something (evict a
// page) and retry.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// AcquireMemory reserves bytes, waiting until enough budget is released or
// ctx is done. Requests larger than the whole budget fail immediately.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil {
		if bytes > c.cfg.MemoryLimitBytes {
			return ErrMemoryLimitExceeded
		}
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns bytes to the budget.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the budget in bytes, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// Workers returns the number of worker slots.
func (c *Controller) Workers() int {
	if c == nil {
		return 1
	}
	return int(c.cfg.MaxWorkers)
}

// AcquireWorker blocks until a worker slot is free or ctx is done.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workers.Acquire(ctx, 1)
}

// ReleaseWorker frees a worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workers.Release(1)
}

// WaitIO blocks until the IO rate allows n more bytes. Requests larger than
// one second of budget are split.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.ioLimiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
