package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock advances simulated time instead of sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, minInterval, maxWait time.Duration) (*Limiter, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clock := newFakeClock()
	return NewLimiter(client, minInterval, maxWait, 5*time.Second).WithClock(clock), clock
}

func TestClassify(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	minInterval := time.Second

	tests := []struct {
		name     string
		last     time.Time
		backoff  time.Time
		state    waitState
		wantWait time.Duration
	}{
		{"no history", time.Time{}, time.Time{}, stateReady, 0},
		{"interval elapsed", base.Add(-2 * time.Second), time.Time{}, stateReady, 0},
		{"inside interval", base.Add(-300 * time.Millisecond), time.Time{}, stateWaitingLocal, 700 * time.Millisecond},
		{"backoff active", base.Add(-2 * time.Second), base.Add(5 * time.Second), stateWaitingBackoff, 5 * time.Second},
		{"backoff dominates local", base.Add(-300 * time.Millisecond), base.Add(5 * time.Second), stateWaitingBackoff, 5 * time.Second},
		{"local dominates stale backoff", base.Add(-300 * time.Millisecond), base.Add(-time.Second), stateWaitingLocal, 700 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, wait := classify(base, tt.last, tt.backoff, minInterval)
			if state != tt.state {
				t.Errorf("state = %d, want %d", state, tt.state)
			}
			if wait != tt.wantWait {
				t.Errorf("wait = %v, want %v", wait, tt.wantWait)
			}
		})
	}
}

func TestWaitEnforcesMinInterval(t *testing.T) {
	limiter, clock := newTestLimiter(t, time.Second, 30*time.Second)
	ctx := context.Background()

	start := clock.Now()
	calls := 4
	for i := 0; i < calls; i++ {
		if _, skip, err := limiter.Wait(ctx); err != nil || skip {
			t.Fatalf("Wait() call %d: skip=%v err=%v", i, skip, err)
		}
	}

	// N consecutive polls must span at least (N-1) * minInterval of
	// simulated time.
	elapsed := clock.Now().Sub(start)
	if want := time.Duration(calls-1) * time.Second; elapsed < want {
		t.Errorf("elapsed = %v, want at least %v", elapsed, want)
	}
}

func TestWaitHonorsBackoff(t *testing.T) {
	limiter, clock := newTestLimiter(t, time.Second, 30*time.Second)
	ctx := context.Background()

	if err := limiter.SetBackoff(ctx, 5*time.Second); err != nil {
		t.Fatalf("SetBackoff() error = %v", err)
	}

	before := clock.Now()
	wait, skip, err := limiter.Wait(ctx)
	if err != nil || skip {
		t.Fatalf("Wait(): skip=%v err=%v", skip, err)
	}
	if wait < 5*time.Second {
		t.Errorf("wait = %v, want at least 5s", wait)
	}
	if clock.Now().Sub(before) < 5*time.Second {
		t.Errorf("simulated sleep = %v, want at least 5s", clock.Now().Sub(before))
	}
}

func TestWaitSkipsBeyondTolerance(t *testing.T) {
	limiter, clock := newTestLimiter(t, time.Second, 3*time.Second)
	ctx := context.Background()

	if err := limiter.SetBackoff(ctx, 10*time.Second); err != nil {
		t.Fatalf("SetBackoff() error = %v", err)
	}

	before := clock.Now()
	_, skip, err := limiter.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !skip {
		t.Fatal("Wait() should skip when the backoff exceeds the tolerance")
	}
	if clock.Now() != before {
		t.Error("a skipped poll must not sleep")
	}
}

func TestLockExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clock := newFakeClock()
	limiter := NewLimiter(client, time.Second, 30*time.Second, 200*time.Millisecond).WithClock(clock)
	ctx := context.Background()

	release, ok, err := limiter.Lock(ctx)
	if err != nil || !ok {
		t.Fatalf("first Lock(): ok=%v err=%v", ok, err)
	}

	// A second holder must give up within the bound, not error.
	_, ok, err = limiter.Lock(ctx)
	if err != nil {
		t.Fatalf("second Lock() error = %v", err)
	}
	if ok {
		t.Fatal("second Lock() should not acquire while held")
	}

	release()

	_, ok, err = limiter.Lock(ctx)
	if err != nil || !ok {
		t.Fatalf("Lock() after release: ok=%v err=%v", ok, err)
	}
}

func TestReleaseOnlyRemovesOwnLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clock := newFakeClock()
	limiter := NewLimiter(client, time.Second, 30*time.Second, 100*time.Millisecond).WithClock(clock)
	ctx := context.Background()

	release, ok, err := limiter.Lock(ctx)
	if err != nil || !ok {
		t.Fatalf("Lock(): ok=%v err=%v", ok, err)
	}

	// Simulate the TTL expiring and another worker taking the lock.
	mr.FastForward(time.Minute)
	release2, ok, err := limiter.Lock(ctx)
	if err != nil || !ok {
		t.Fatalf("Lock() after expiry: ok=%v err=%v", ok, err)
	}
	defer release2()

	// The stale holder's release must not delete the new holder's lock.
	release()
	if !mr.Exists("killboard:feed:lock") {
		t.Error("stale release removed another worker's lock")
	}
}
