package game

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	l := NewRateLimiter(8, time.Second)
	start := t0

	for i := 0; i < 8; i++ {
		now := start.Add(time.Duration(i*100) * time.Millisecond)
		if !l.Allow("c1", now) {
			t.Fatalf("action %d within cap was rejected", i+1)
		}
	}
	if l.Allow("c1", start.Add(900*time.Millisecond)) {
		t.Error("Expected the 9th action in the window to be rejected")
	}
	// The window is still open exactly at resetAt.
	if l.Allow("c1", start.Add(time.Second)) {
		t.Error("Expected an action at resetAt to be rejected")
	}

	// A fresh window opens once resetAt has passed and counts from zero.
	next := start.Add(time.Second + time.Millisecond)
	for i := 0; i < 8; i++ {
		if !l.Allow("c1", next) {
			t.Fatalf("action %d of the new window was rejected", i+1)
		}
	}
	if l.Allow("c1", next) {
		t.Error("Expected the new window to cap at 8 as well")
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	l := NewRateLimiter(1, time.Second)

	if !l.Allow("a", t0) || !l.Allow("b", t0) {
		t.Fatal("Expected first action of each key to be accepted")
	}
	if l.Allow("a", t0) {
		t.Error("Expected key a to be capped")
	}
	if l.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", l.Len())
	}

	l.Forget("a")
	if l.Len() != 1 {
		t.Errorf("Expected 1 entry after Forget, got %d", l.Len())
	}
	if !l.Allow("a", t0) {
		t.Error("Expected a forgotten key to start a new window")
	}
}

func TestRateLimiterIdleExpiry(t *testing.T) {
	l := NewRateLimiter(2, time.Second)

	l.Allow("c1", t0)
	l.Allow("c1", t0)
	if l.Allow("c1", t0.Add(500*time.Millisecond)) {
		t.Fatal("Expected cap to hold inside the window")
	}
	if !l.Allow("c1", t0.Add(5*time.Second)) {
		t.Error("Expected an idle window to expire")
	}
}
