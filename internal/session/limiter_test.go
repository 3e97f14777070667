// SPDX-License-Identifier: MIT

package session

import (
	"testing"
	"time"
)

func TestFocusWindow_StrictRollingLimit(t *testing.T) {
	w := newFocusWindow(3)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !w.allow(t0.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("call %d within budget denied", i)
		}
	}
	if w.allow(t0.Add(3 * time.Second)) {
		t.Fatal("fourth call inside the window allowed")
	}

	// Still three calls in the trailing minute at +59s.
	if w.allow(t0.Add(59 * time.Second)) {
		t.Fatal("budget freed before the window rolled")
	}
	// The t0 call has left the window at +61s.
	if !w.allow(t0.Add(61 * time.Second)) {
		t.Fatal("budget not freed after the oldest call left the window")
	}
}

func TestFocusWindow_DeniedCallsConsumeNothing(t *testing.T) {
	w := newFocusWindow(1)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if !w.allow(t0) {
		t.Fatal("first call denied")
	}
	for i := 1; i <= 30; i++ {
		if w.allow(t0.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("call at +%ds allowed with budget exhausted", i)
		}
	}

	// Only the t0 call occupies the window; the denials above must not
	// have extended it.
	if !w.allow(t0.Add(61 * time.Second)) {
		t.Fatal("denied calls consumed window budget")
	}
}

func TestIPCounter_CapAndRelease(t *testing.T) {
	c := newIPCounter(2)

	if !c.acquire("10.0.0.1") || !c.acquire("10.0.0.1") {
		t.Fatal("acquire under cap failed")
	}
	if c.acquire("10.0.0.1") {
		t.Fatal("acquire over cap succeeded")
	}
	if !c.acquire("10.0.0.2") {
		t.Fatal("distinct address rejected by another address's cap")
	}

	c.release("10.0.0.1")
	if !c.acquire("10.0.0.1") {
		t.Fatal("released slot not reusable")
	}

	c.release("10.0.0.1")
	c.release("10.0.0.1")
	c.release("10.0.0.1")
	if !c.acquire("10.0.0.1") || !c.acquire("10.0.0.1") {
		t.Fatal("over-release broke the counter")
	}
	if c.acquire("10.0.0.1") {
		t.Fatal("cap lost after over-release")
	}
}
