package doctrine

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryLocker_SerializesPerRule(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var inside, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithRuleLock(ctx, "rule-1", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > max {
					max = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Fatalf("expected mutual exclusion per rule, saw %d concurrent holders", max)
	}
}

func TestMemoryLocker_EvictsReleasedEntries(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "rule-" + string(rune('a'+i%26))
			_ = l.WithRuleLock(ctx, id, func(ctx context.Context) error { return nil })
		}(i)
	}
	wg.Wait()

	l.mu.Lock()
	n := len(l.locks)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no retained lock entries, got %d", n)
	}
}

func TestMemoryLocker_HonoursCancelledContext(t *testing.T) {
	l := NewMemoryLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := l.WithRuleLock(ctx, "rule-1", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected context error")
	}
	if called {
		t.Fatalf("fn must not run under a cancelled context")
	}
}
