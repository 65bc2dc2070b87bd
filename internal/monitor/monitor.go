// Package monitor provides a wait/signal primitive which remembers
// signals, so a Signal issued before Wait is never lost.
package monitor

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Wait when monitor is closed and no signal
	// is pending.
	ErrClosed = errors.New("monitor is closed")
	// ErrTimeout is returned by WaitTimeout when no signal arrived in
	// time.
	ErrTimeout = errors.New("monitor wait timeout")
)

// Monitor is a mutex, a condition variable and a count of pending
// signals. Zero value is not usable, use New.
type Monitor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	closed  bool
}

// New returns a new monitor without pending signals.
func New() *Monitor {
	m := &Monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Signal records one pending signal and wakes all waiters.
func (m *Monitor) Signal() {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Reset drops all pending signals.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.pending = 0
	m.mu.Unlock()
}

// Close releases all current and future waiters. Pending signals are
// still consumed first.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Wait blocks until there is a pending signal and consumes it. ErrClosed
// is returned if monitor is closed and nothing is pending.
func (m *Monitor) Wait() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pending == 0 && !m.closed {
		m.cond.Wait()
	}
	return m.consume()
}

// WaitTimeout is like Wait, but gives up after d.
func (m *Monitor) WaitTimeout(d time.Duration) error {
	deadline := time.Now().Add(d)
	// cond has no timed wait, so wake everyone up once the deadline is
	// reached and let them re-check.
	t := time.AfterFunc(d, func() {
		m.mu.Lock()
		m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer t.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pending == 0 && !m.closed {
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		m.cond.Wait()
	}
	return m.consume()
}

// consume must be called with mutex held.
func (m *Monitor) consume() error {
	if m.pending > 0 {
		m.pending--
		return nil
	}
	return ErrClosed
}
