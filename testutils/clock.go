// Package testutils contains helpers shared by controlpi tests.
package testutils

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SleepRecorder is a mock clock whose Sleep returns immediately. It advances the mock time by the
// requested duration and remembers it, so tests can assert on delays without waiting them out.
type SleepRecorder struct {
	*clock.Mock

	mu    sync.Mutex
	slept []time.Duration
}

// NewSleepRecorder returns a SleepRecorder starting at the zero mock time.
func NewSleepRecorder() *SleepRecorder {
	return &SleepRecorder{Mock: clock.NewMock()}
}

// Sleep records d and advances the mock clock by it.
func (c *SleepRecorder) Sleep(d time.Duration) {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	c.Mock.Add(d)
}

// Slept returns every duration slept so far, in order.
func (c *SleepRecorder) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]time.Duration, len(c.slept))
	copy(ret, c.slept)
	return ret
}

// Total returns the sum of every duration slept so far.
func (c *SleepRecorder) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.slept {
		total += d
	}
	return total
}
