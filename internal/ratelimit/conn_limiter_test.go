package ratelimit

import (
	"testing"
	"time"
)

func TestAllowPerConnection(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Now()

	if !l.Allow(1, now) || !l.Allow(1, now) {
		t.Fatal("expected burst of 2 to be admitted")
	}
	if l.Allow(1, now) {
		t.Fatal("expected third call in the same instant to be rejected")
	}

	// A different connection has its own bucket.
	if !l.Allow(2, now) {
		t.Fatal("expected fresh connection to be admitted")
	}

	// Tokens refill over time.
	if !l.Allow(1, now.Add(2*time.Second)) {
		t.Fatal("expected refilled bucket to admit")
	}
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var l *ConnLimiter
	if !l.Allow(1, time.Now()) {
		t.Fatal("nil limiter must admit")
	}
	if New(0, 1, 0) != nil {
		t.Fatal("invalid args must yield nil limiter")
	}
}
