package ratelimit

import (
	"context"
	"sync"
	"time"
)

type callerLog struct {
	mu    sync.Mutex
	times []int64
	// swept is set once Sweep has unlinked the log from the map.
	swept bool
}

// MemoryStore keeps request logs in process memory. Different callers never contend on
// the same lock; requests from one caller are serialized.
type MemoryStore struct {
	policy Policy

	mu      sync.RWMutex
	callers map[string]*callerLog
}

func NewMemoryStore(p Policy) (*MemoryStore, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &MemoryStore{policy: p, callers: make(map[string]*callerLog)}, nil
}

func (s *MemoryStore) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	for {
		entry := s.logFor(key)
		entry.mu.Lock()
		if entry.swept {
			entry.mu.Unlock()
			continue
		}
		var d Decision
		entry.times, d = decide(s.policy, entry.times, now)
		entry.mu.Unlock()
		return d, nil
	}
}

func (s *MemoryStore) logFor(key string) *callerLog {
	s.mu.RLock()
	entry, ok := s.callers[key]
	s.mu.RUnlock()
	if ok {
		return entry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.callers[key]; !ok {
		entry = &callerLog{}
		s.callers[key] = entry
	}
	return entry
}

// Sweep drops callers with no entries inside the window and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	cutoff := now.UnixNano() - s.policy.Window.Nanoseconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.callers {
		entry.mu.Lock()
		idle := len(entry.times) == 0 || entry.times[len(entry.times)-1] <= cutoff
		if idle {
			entry.swept = true
			delete(s.callers, key)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked callers.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.callers)
}

func (s *MemoryStore) Close() error { return nil }
