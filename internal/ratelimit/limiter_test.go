package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireWithinBudget(t *testing.T) {
	l := New("test", Policy{Max: 3, Window: time.Minute})
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
	}
	if b := l.Budget(); b.Used != 3 {
		t.Errorf("expected 3 used, got %d", b.Used)
	}
}

func TestAcquireRejectsWhenQueueDisabled(t *testing.T) {
	l := New("test", Policy{Max: 2, Window: time.Minute})
	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	err := l.Acquire(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected for N+1th call, got %v", err)
	}
	if b := l.Budget(); b.Used != 2 {
		t.Errorf("expected budget to stay at 2, got %d", b.Used)
	}
}

func TestAcquireRejectsWhenWaitTooLong(t *testing.T) {
	l := New("test", Policy{Max: 1, Window: time.Minute, MaxWait: 10 * time.Millisecond, MaxQueue: 4})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(context.Background()); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection when slot is a minute away, got %v", err)
	}
}

func TestAcquireDelaysUntilRollover(t *testing.T) {
	window := 80 * time.Millisecond
	l := New("test", Policy{Max: 2, Window: window, MaxWait: time.Second, MaxQueue: 4})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if elapsed := time.Since(start); elapsed < window-5*time.Millisecond {
		t.Errorf("expected third call to be delayed by ~%s, took %s", window, elapsed)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l := New("test", Policy{Max: 1, Window: time.Minute, MaxWait: time.Minute, MaxQueue: 1})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if b := l.Budget(); b.Waiting != 0 {
		t.Errorf("expected waiter to be released, got %d", b.Waiting)
	}
}

func TestQueueDepthBound(t *testing.T) {
	l := New("test", Policy{Max: 1, Window: time.Minute, MaxWait: time.Minute, MaxQueue: 1})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	// wait for the goroutine to occupy the only queue slot
	for i := 0; i < 100 && l.Budget().Waiting == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	if err := l.Acquire(context.Background()); !errors.Is(err, ErrRejected) {
		t.Errorf("expected queue-full rejection, got %v", err)
	}
	cancel()
	<-done
}

// Concurrent callers never see more than Max grants inside one window.
func TestConcurrentNeverExceedsBudget(t *testing.T) {
	const budget = 5
	l := New("test", Policy{Max: budget, Window: 5 * time.Second})

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire(context.Background()) == nil {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()
	if granted != budget {
		t.Errorf("expected exactly %d grants in one window, got %d", budget, granted)
	}
}

func TestSlidingWindowWithFakeClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New("test", Policy{Max: 2, Window: time.Minute})
	l.now = func() time.Time { return now }

	_ = l.Acquire(context.Background())
	now = now.Add(30 * time.Second)
	_ = l.Acquire(context.Background())
	if err := l.Acquire(context.Background()); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection at 30s, got %v", err)
	}

	// first grant leaves the window at 60s
	now = now.Add(31 * time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("expected slot after rollover, got %v", err)
	}
	if b := l.Budget(); b.Used != 2 {
		t.Errorf("expected 2 used after rollover, got %d", b.Used)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Get("pubmed", PubMedPolicy)
	b := r.Get("pubmed", PubMedKeyedPolicy)
	if a != b {
		t.Error("expected Get to return the existing limiter")
	}
	r.Register("medlineplus", MedlinePlusPolicy)
	budgets := r.Budgets()
	if len(budgets) != 2 || budgets[0].Source != "medlineplus" {
		t.Errorf("unexpected budgets: %+v", budgets)
	}
	if budgets[1].Max != PubMedPolicy.Max {
		t.Errorf("expected first registered policy to win, got max %d", budgets[1].Max)
	}
}
