package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newMemory(t *testing.T, limit int, window time.Duration) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(Policy{Limit: limit, Window: window})
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	return s
}

func TestNewMemoryStore_InvalidPolicy(t *testing.T) {
	for _, p := range []Policy{{Limit: 0, Window: time.Second}, {Limit: 1, Window: 0}} {
		if _, err := NewMemoryStore(p); err == nil {
			t.Errorf("NewMemoryStore(%+v) expected error", p)
		}
	}
}

func TestMemoryStore_AdmitsUpToLimit(t *testing.T) {
	s := newMemory(t, 100, time.Minute)
	ctx := context.Background()
	for i := 1; i <= 100; i++ {
		d, err := s.Allow(ctx, "10.0.0.1", t0.Add(time.Duration(i)*time.Millisecond))
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed || d.Count != i {
			t.Fatalf("request %d: %+v, want allowed with count %d", i, d, i)
		}
	}
	d, _ := s.Allow(ctx, "10.0.0.1", t0.Add(time.Second))
	if d.Allowed {
		t.Fatal("101st request within the window was allowed")
	}
	if d.Count != 100 || d.Limit != 100 {
		t.Errorf("denied decision = %+v", d)
	}
	// Oldest entry at t0+1ms leaves the window at t0+60.001s.
	if want := 59*time.Second + time.Millisecond; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v", d.RetryAfter, want)
	}
}

func TestMemoryStore_DeniedRequestsAreNotRecorded(t *testing.T) {
	s := newMemory(t, 2, 10*time.Second)
	ctx := context.Background()
	s.Allow(ctx, "c", t0)
	s.Allow(ctx, "c", t0.Add(time.Second))
	for i := 0; i < 5; i++ {
		if d, _ := s.Allow(ctx, "c", t0.Add(2*time.Second)); d.Allowed {
			t.Fatal("expected denial")
		}
	}
	// Only the first admitted entry has aged out, so exactly one slot opens.
	if d, _ := s.Allow(ctx, "c", t0.Add(10*time.Second)); !d.Allowed {
		t.Fatalf("expected admission after oldest entry expired, got %+v", d)
	}
	if d, _ := s.Allow(ctx, "c", t0.Add(10*time.Second)); d.Allowed {
		t.Fatal("expected denial: window holds two entries again")
	}
}

func TestMemoryStore_WindowBoundary(t *testing.T) {
	s := newMemory(t, 1, time.Minute)
	ctx := context.Background()
	s.Allow(ctx, "c", t0)
	if d, _ := s.Allow(ctx, "c", t0.Add(time.Minute-time.Nanosecond)); d.Allowed {
		t.Error("entry still inside window should block")
	}
	// An entry exactly one window old is purged.
	if d, _ := s.Allow(ctx, "c", t0.Add(time.Minute)); !d.Allowed {
		t.Error("entry exactly one window old should have been purged")
	}
}

func TestMemoryStore_CallersAreIndependent(t *testing.T) {
	s := newMemory(t, 1, time.Minute)
	ctx := context.Background()
	if d, _ := s.Allow(ctx, "a", t0); !d.Allowed {
		t.Fatal("a denied")
	}
	if d, _ := s.Allow(ctx, "a", t0); d.Allowed {
		t.Fatal("a admitted over limit")
	}
	if d, _ := s.Allow(ctx, "b", t0); !d.Allowed {
		t.Fatal("b affected by a's usage")
	}
}

func TestMemoryStore_ConcurrentCallerNeverExceedsLimit(t *testing.T) {
	s := newMemory(t, 50, time.Minute)
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := s.Allow(ctx, "shared", t0)
			if d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 50 {
		t.Errorf("admitted = %d, want 50", admitted)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := newMemory(t, 10, time.Minute)
	ctx := context.Background()
	s.Allow(ctx, "old", t0)
	s.Allow(ctx, "recent", t0.Add(30*time.Second))
	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if removed := s.Sweep(t0.Add(time.Minute)); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	// A swept caller starts with an empty log.
	if d, _ := s.Allow(ctx, "old", t0.Add(time.Minute)); !d.Allowed || d.Count != 1 {
		t.Errorf("Allow() after sweep = %+v", d)
	}
}

func TestDecide_DoesNotRecordDenied(t *testing.T) {
	p := Policy{Limit: 1, Window: time.Second}
	times, d := decide(p, nil, t0)
	if !d.Allowed || len(times) != 1 {
		t.Fatalf("first decide = %+v, %v", d, times)
	}
	times, d = decide(p, times, t0.Add(500*time.Millisecond))
	if d.Allowed || len(times) != 1 {
		t.Fatalf("second decide = %+v, %v", d, times)
	}
	if d.RetryAfter != 500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 500ms", d.RetryAfter)
	}
}
