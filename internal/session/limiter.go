// SPDX-License-Identifier: MIT

package session

import (
	"sync"
	"time"
)

// focusWindow enforces a strict rolling sixty-second budget of focus calls.
// Callers hold the session mutex; the window keeps raw call times so the
// bound holds over any sixty-second span, not just aligned buckets.
type focusWindow struct {
	limit int
	calls []time.Time
}

func newFocusWindow(limit int) *focusWindow {
	return &focusWindow{limit: limit}
}

// allow consumes one unit iff the trailing window has budget left. A denied
// call consumes nothing.
func (w *focusWindow) allow(now time.Time) bool {
	w.prune(now)
	if len(w.calls) >= w.limit {
		return false
	}
	w.calls = append(w.calls, now)
	return true
}

func (w *focusWindow) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// ipCounter caps concurrent connections per source address.
type ipCounter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

func newIPCounter(max int) *ipCounter {
	return &ipCounter{max: max, counts: make(map[string]int)}
}

// acquire reserves a slot for ip, reporting false at the cap.
func (c *ipCounter) acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[ip] >= c.max {
		return false
	}
	c.counts[ip]++
	return true
}

// release frees a slot and drops empty entries so the map does not grow
// with address churn.
func (c *ipCounter) release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[ip] - 1
	if n <= 0 {
		delete(c.counts, ip)
		return
	}
	c.counts[ip] = n
}
