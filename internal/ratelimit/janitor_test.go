package ratelimit

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) Sweep(time.Time) int {
	c.calls.Add(1)
	return 1
}

func TestNewJanitor_RejectsNonPositiveInterval(t *testing.T) {
	if _, err := NewJanitor(&countingSweeper{}, 0, zap.NewNop()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestJanitor_SweepsPeriodically(t *testing.T) {
	target := &countingSweeper{}
	j, err := NewJanitor(target, time.Second, nil)
	if err != nil {
		t.Fatalf("NewJanitor() error = %v", err)
	}
	j.Start()
	deadline := time.Now().Add(5 * time.Second)
	for target.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	j.Stop()
	if target.calls.Load() == 0 {
		t.Fatal("janitor never swept")
	}
	after := target.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	if target.calls.Load() != after {
		t.Error("janitor swept after Stop")
	}
}
