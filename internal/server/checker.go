package server

import (
	"context"
	"fmt"
	"sync"
)

// FillRatioReporter reports how full a buffer is, between 0 and 1.
type FillRatioReporter interface {
	FillRatio() float64
}

// BufferHealthChecker reports readiness from the buffer fill ratio and the
// state of registered components.
type BufferHealthChecker struct {
	buffer       FillRatioReporter
	maxFillRatio float64

	mu         sync.RWMutex
	live       bool
	components map[string]bool
}

// NewBufferHealthChecker creates a checker that is not ready once the buffer
// fill ratio reaches maxFillRatio.
func NewBufferHealthChecker(buffer FillRatioReporter, maxFillRatio float64) *BufferHealthChecker {
	if maxFillRatio <= 0 || maxFillRatio > 1 {
		maxFillRatio = 0.95
	}
	return &BufferHealthChecker{
		buffer:       buffer,
		maxFillRatio: maxFillRatio,
		live:         true,
		components:   make(map[string]bool),
	}
}

// SetComponent records whether a named component is running.
func (c *BufferHealthChecker) SetComponent(name string, up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = up
}

// SetLive marks the process as alive or not.
func (c *BufferHealthChecker) SetLive(live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = live
}

// Liveness reports whether the process is alive.
func (c *BufferHealthChecker) Liveness() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// Readiness reports whether the buffer has room and every component is up.
func (c *BufferHealthChecker) Readiness(_ context.Context) bool {
	if c.buffer.FillRatio() >= c.maxFillRatio {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, up := range c.components {
		if !up {
			return false
		}
	}
	return true
}

// GetStatus returns a status line per check.
func (c *BufferHealthChecker) GetStatus() map[string]string {
	ratio := c.buffer.FillRatio()
	status := make(map[string]string)
	if ratio >= c.maxFillRatio {
		status["buffer"] = fmt.Sprintf("saturated (fill ratio %.2f)", ratio)
	} else {
		status["buffer"] = fmt.Sprintf("ok (fill ratio %.2f)", ratio)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, up := range c.components {
		if up {
			status[name] = "up"
		} else {
			status[name] = "down"
		}
	}
	return status
}
