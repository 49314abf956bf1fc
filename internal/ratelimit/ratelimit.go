package ratelimit

import (
	"sync"
	"time"
)

// Endpoint limits, requests per minute per client. Unlisted endpoints
// get DefaultLimit.
const (
	DefaultLimit = 100

	CreateExperimentLimit = 10
	IngestMetricsLimit    = 100
	AllocationLimit       = 300
	HistoryLimit          = 60
	GetExperimentLimit    = 120
)

// Decision is the outcome of a limiter check, carried into the
// X-RateLimit response headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// SlidingWindow limits requests per client:endpoint key over a rolling
// one-minute window. Timestamps are kept per key and pruned on each
// check, so a burst that filled the window frees up gradually rather
// than all at once on a minute boundary.
type SlidingWindow struct {
	mu      sync.Mutex
	window  time.Duration
	history map[string][]time.Time

	// Now is the clock. Overridable in tests.
	Now func() time.Time
}

// NewSlidingWindow creates a limiter with a one-minute window.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		window:  time.Minute,
		history: make(map[string][]time.Time),
		Now:     time.Now,
	}
}

// Allow records and admits the request unless the key already saw limit
// requests inside the window.
func (s *SlidingWindow) Allow(key string, limit int) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	cutoff := now.Add(-s.window)

	// Prune timestamps that fell out of the window.
	kept := s.history[key][:0]
	for _, ts := range s.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	d := Decision{Limit: limit, ResetAt: now.Add(s.window)}
	if len(kept) > 0 {
		d.ResetAt = kept[0].Add(s.window)
	}

	if len(kept) >= limit {
		s.history[key] = kept
		return d
	}

	kept = append(kept, now)
	s.history[key] = kept
	d.Allowed = true
	d.Remaining = limit - len(kept)
	return d
}

// Prune drops keys whose entire history fell out of the window. Run
// periodically to bound memory on high client cardinality.
func (s *SlidingWindow) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.Now().Add(-s.window)
	removed := 0
	for key, history := range s.history {
		alive := false
		for _, ts := range history {
			if ts.After(cutoff) {
				alive = true
				break
			}
		}
		if !alive {
			delete(s.history, key)
			removed++
		}
	}
	return removed
}

// DailyQuota caps allocation computations per client per UTC day. Each
// computation runs a full Monte Carlo pass against the warehouse, so
// the cap guards compute cost rather than abuse.
type DailyQuota struct {
	mu    sync.Mutex
	limit int
	used  map[string]int
	day   string

	Now func() time.Time
}

// NewDailyQuota creates a quota allowing limit computations per day.
func NewDailyQuota(limit int) *DailyQuota {
	return &DailyQuota{
		limit: limit,
		used:  make(map[string]int),
		Now:   time.Now,
	}
}

// Allow admits the request and counts it against today's quota.
func (q *DailyQuota) Allow(key string) Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now().UTC()
	today := now.Format("2006-01-02")
	if today != q.day {
		// New UTC day, all counters reset.
		q.day = today
		q.used = make(map[string]int)
	}

	midnight := now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	d := Decision{Limit: q.limit, ResetAt: midnight}

	if q.used[key] >= q.limit {
		return d
	}

	q.used[key]++
	d.Allowed = true
	d.Remaining = q.limit - q.used[key]
	return d
}
