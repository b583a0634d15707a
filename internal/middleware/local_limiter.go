package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiterStore keeps one token bucket per key in process memory.
// It backs route rate limits while Redis is unreachable.
type LocalLimiterStore struct {
	mu      sync.Mutex
	entries map[string]*localLimiterEntry
	idleTTL time.Duration
	now     func() time.Time
}

type localLimiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiterStore returns a store that forgets keys idle for longer than idleTTL.
func NewLocalLimiterStore(idleTTL time.Duration) *LocalLimiterStore {
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &LocalLimiterStore{
		entries: make(map[string]*localLimiterEntry),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Allow consumes one token for key. A bucket holds `limit` tokens refilled evenly over `window`.
func (s *LocalLimiterStore) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return false
	}
	now := s.now()

	s.mu.Lock()
	ent, ok := s.entries[key]
	if !ok {
		every := window / time.Duration(limit)
		ent = &localLimiterEntry{lim: rate.NewLimiter(rate.Every(every), limit)}
		s.entries[key] = ent
	}
	ent.lastSeen = now
	lim := ent.lim
	s.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (s *LocalLimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops keys that have been idle longer than the TTL.
func (s *LocalLimiterStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor periodically runs Cleanup until ctx is cancelled.
func (s *LocalLimiterStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
