package ratelimit

import (
	"testing"
	"time"
)

func TestSlidingWindowLimit(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s := NewSlidingWindow()
	s.Now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d := s.Allow("client-1:allocation", 3)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i-1 {
			t.Errorf("request %d: Remaining = %d, want %d", i, d.Remaining, 3-i-1)
		}
	}

	d := s.Allow("client-1:allocation", 3)
	if d.Allowed {
		t.Fatal("fourth request inside the window should be denied")
	}
	if !d.ResetAt.Equal(now.Add(time.Minute)) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, now.Add(time.Minute))
	}
}

func TestSlidingWindowRollsOver(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s := NewSlidingWindow()
	s.Now = func() time.Time { return now }

	// Fill the window: one request at t=0, one at t=30s.
	s.Allow("k", 2)
	now = now.Add(30 * time.Second)
	s.Allow("k", 2)

	if d := s.Allow("k", 2); d.Allowed {
		t.Fatal("window full, request should be denied")
	}

	// 31 seconds later the first request has aged out but not the second.
	now = now.Add(31 * time.Second)
	if d := s.Allow("k", 2); !d.Allowed {
		t.Fatal("first slot should have aged out of the sliding window")
	}
	if d := s.Allow("k", 2); d.Allowed {
		t.Fatal("window is full again")
	}
}

func TestSlidingWindowKeysIndependent(t *testing.T) {
	s := NewSlidingWindow()

	if d := s.Allow("a:ingest", 1); !d.Allowed {
		t.Fatal("first request for key a should pass")
	}
	if d := s.Allow("a:ingest", 1); d.Allowed {
		t.Fatal("key a is at its limit")
	}
	if d := s.Allow("b:ingest", 1); !d.Allowed {
		t.Fatal("key b has its own window")
	}
}

func TestSlidingWindowPrune(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s := NewSlidingWindow()
	s.Now = func() time.Time { return now }

	s.Allow("stale", 10)
	s.Allow("fresh", 10)

	now = now.Add(2 * time.Minute)
	s.Allow("fresh", 10)

	if removed := s.Prune(); removed != 1 {
		t.Fatalf("Prune() = %d, want 1", removed)
	}
	if _, ok := s.history["stale"]; ok {
		t.Fatal("stale key should have been pruned")
	}
	if _, ok := s.history["fresh"]; !ok {
		t.Fatal("fresh key should survive pruning")
	}
}

func TestDailyQuota(t *testing.T) {
	now := time.Date(2025, 6, 15, 23, 50, 0, 0, time.UTC)
	q := NewDailyQuota(2)
	q.Now = func() time.Time { return now }

	if d := q.Allow("client-1"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first: %+v", d)
	}
	if d := q.Allow("client-1"); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second: %+v", d)
	}

	d := q.Allow("client-1")
	if d.Allowed {
		t.Fatal("third request should exceed the daily quota")
	}
	wantReset := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	if !d.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, wantReset)
	}

	// Other clients are unaffected.
	if d := q.Allow("client-2"); !d.Allowed {
		t.Fatal("client-2 has its own quota")
	}

	// Counters reset at the UTC day boundary.
	now = time.Date(2025, 6, 16, 0, 5, 0, 0, time.UTC)
	if d := q.Allow("client-1"); !d.Allowed {
		t.Fatal("quota should reset on the new UTC day")
	}
}
