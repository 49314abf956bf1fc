package cache

import (
	"testing"
	"time"
)

func TestLRUEviction(t *testing.T) {
	cache, err := NewLRUWithTTL[string, int](2, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	cache.Set("exp-1", 1)
	cache.Set("exp-2", 2)
	cache.Set("exp-3", 3) // evicts exp-1

	if _, ok := cache.Get("exp-1"); ok {
		t.Error("exp-1 should have been evicted")
	}
	if val, ok := cache.Get("exp-3"); !ok || val != 3 {
		t.Errorf("Get(exp-3) = (%v, %v), want (3, true)", val, ok)
	}
	if stats := cache.Stats(); stats.Evicted != 1 {
		t.Errorf("Stats.Evicted = %d, want 1", stats.Evicted)
	}
}

func TestLRUExpiration(t *testing.T) {
	cache, err := NewLRUWithTTL[string, string](10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	cache.Set("exp-1", "active")
	if _, ok := cache.Get("exp-1"); !ok {
		t.Error("entry should be present before expiration")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get("exp-1"); ok {
		t.Error("entry should have expired")
	}

	if removed := cache.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", removed)
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", cache.Len())
	}
}

func TestLRUDeleteInvalidates(t *testing.T) {
	cache, err := NewLRUWithTTL[string, int](5, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	cache.Set("exp-1", 1)
	cache.Delete("exp-1")

	if _, ok := cache.Get("exp-1"); ok {
		t.Error("deleted entry should be gone")
	}
}

func TestLRUStats(t *testing.T) {
	cache, err := NewLRUWithTTL[string, int](5, 0)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	cache.Set("exp-1", 1)
	cache.Get("exp-1")  // hit
	cache.Get("exp-1")  // hit
	cache.Get("absent") // miss

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("Stats = %+v, want 2 hits, 1 miss, size 1", stats)
	}
	want := 2.0 / 3.0
	if stats.HitRate < want-0.01 || stats.HitRate > want+0.01 {
		t.Errorf("Stats.HitRate = %f, want ~%f", stats.HitRate, want)
	}
}
