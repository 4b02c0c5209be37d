package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingExpirer struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *countingExpirer) SweepTimeouts(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep ran without a deadline")
	}
	return c.n, c.err
}

func TestRunOnce(t *testing.T) {
	target := &countingExpirer{n: 3}
	s, err := New(target, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()
	if got := s.RunOnce(); got != 3 {
		t.Fatalf("RunOnce = %d, want 3", got)
	}

	target.err = errors.New("store down")
	target.n = 1
	if got := s.RunOnce(); got != 1 {
		t.Fatalf("RunOnce with error = %d, want partial count 1", got)
	}
}

func TestScheduledRuns(t *testing.T) {
	target := &countingExpirer{}
	s, err := New(target, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for target.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sweep ran %d times", target.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNew_RejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(&countingExpirer{}, 0); err == nil {
		t.Fatal("expected error")
	}
}
