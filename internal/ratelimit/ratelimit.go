// Package ratelimit implements sliding-window admission limits keyed by
// (subject, capability). Two independent windows apply: per-minute and
// per-hour. Counters live in an injectable Store so a single process can use
// the in-memory map while a fleet shares Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store records admission timestamps per key and counts recent ones.
// Implementations prune entries older than the hour window on write.
type Store interface {
	Record(ctx context.Context, key string, at time.Time) error
	// CountSince returns how many admissions were recorded at or after
	// since, and the oldest such timestamp (zero when count is 0).
	CountSince(ctx context.Context, key string, since time.Time) (int, time.Time, error)
}

// Result is the outcome of a rate check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter applies the per-minute and per-hour limits.
type Limiter struct {
	mu        sync.Mutex
	store     Store
	perMinute int
	perHour   int
	now       func() time.Time
}

func NewLimiter(store Store, perMinute, perHour int) *Limiter {
	return &Limiter{
		store:     store,
		perMinute: perMinute,
		perHour:   perHour,
		now:       time.Now,
	}
}

// Key builds the counter key for a subject and capability.
func Key(subject, capability string) string {
	return subject + ":" + capability
}

// Allow checks both windows for the key and, only when both are under their
// limits, records the admission. A denied request leaves the counters
// untouched; RetryAfter is the time until the oldest entry in the violated
// window ages out.
func (l *Limiter) Allow(ctx context.Context, subject, capability string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(subject, capability)
	now := l.now()

	minCount, minOldest, err := l.store.CountSince(ctx, key, now.Add(-time.Minute))
	if err != nil {
		return Result{}, fmt.Errorf("count minute window: %w", err)
	}
	if minCount >= l.perMinute {
		return Result{RetryAfter: retryAfter(minOldest, time.Minute, now)}, nil
	}

	hourCount, hourOldest, err := l.store.CountSince(ctx, key, now.Add(-time.Hour))
	if err != nil {
		return Result{}, fmt.Errorf("count hour window: %w", err)
	}
	if hourCount >= l.perHour {
		return Result{RetryAfter: retryAfter(hourOldest, time.Hour, now)}, nil
	}

	if err := l.store.Record(ctx, key, now); err != nil {
		return Result{}, fmt.Errorf("record admission: %w", err)
	}
	return Result{Allowed: true}, nil
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// MemoryStore keeps counters in a mutex-guarded map. Entries older than the
// hour window are pruned on write, so idle keys decay to nothing on their
// own.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

func (s *MemoryStore) Record(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := at.Add(-time.Hour)
	kept := s.entries[key][:0]
	for _, ts := range s.entries[key] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.entries[key] = append(kept, at)
	return nil
}

func (s *MemoryStore) CountSince(_ context.Context, key string, since time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	var oldest time.Time
	for _, ts := range s.entries[key] {
		if ts.Before(since) {
			continue
		}
		if count == 0 || ts.Before(oldest) {
			oldest = ts
		}
		count++
	}
	return count, oldest, nil
}
