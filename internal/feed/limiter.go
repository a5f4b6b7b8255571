package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lastRequestKey = "killboard:feed:last_request"
	backoffKey     = "killboard:feed:backoff_until"
	lockKey        = "killboard:feed:lock"

	lockTTL       = 30 * time.Second
	lockRetryWait = 50 * time.Millisecond
)

// Clock abstracts wall-clock access so the limiter's wait policy can be
// exercised with simulated time.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitState classifies what the limiter would do before the next request.
type waitState int

const (
	stateReady waitState = iota
	stateWaitingLocal
	stateWaitingBackoff
)

// Limiter enforces the feed's global request budget. All timing state lives
// in Redis because the budget is shared by every worker process; the critical
// section around "read state, wait, request, write state" is guarded by a
// short-lived exclusive lock.
type Limiter struct {
	client      *redis.Client
	clock       Clock
	minInterval time.Duration
	maxWait     time.Duration
	lockTimeout time.Duration
}

// NewLimiter builds a limiter with the given minimum spacing between requests
// and the maximum time a single poll is willing to sleep.
func NewLimiter(client *redis.Client, minInterval, maxWait, lockTimeout time.Duration) *Limiter {
	return &Limiter{
		client:      client,
		clock:       SystemClock{},
		minInterval: minInterval,
		maxWait:     maxWait,
		lockTimeout: lockTimeout,
	}
}

// WithClock replaces the clock. Test use.
func (l *Limiter) WithClock(c Clock) *Limiter {
	l.clock = c
	return l
}

// Lock acquires the limiter's exclusive lock, waiting up to the configured
// bound. It returns a release func and ok=false when the lock could not be
// acquired in time, which is not an error: the caller simply skips this poll.
func (l *Limiter) Lock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	deadline := l.clock.Now().Add(l.lockTimeout)

	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("acquire feed lock: %w", err)
		}
		if acquired {
			release := func() {
				// Only the holder may release; a stale unlock after the TTL
				// expired must not kill another worker's lock.
				_ = unlockScript.Run(context.Background(), l.client, []string{lockKey}, token).Err()
			}
			return release, true, nil
		}
		if !l.clock.Now().Add(lockRetryWait).Before(deadline) {
			return nil, false, nil
		}
		if err := l.clock.Sleep(ctx, lockRetryWait); err != nil {
			return nil, false, err
		}
	}
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Wait sleeps out whatever spacing the shared state demands and then records
// the request attempt. skip=true means the required wait exceeded the
// tolerance and the caller must not issue a request this cycle.
// Must be called while holding the limiter lock.
func (l *Limiter) Wait(ctx context.Context) (wait time.Duration, skip bool, err error) {
	now := l.clock.Now()

	last, err := l.readTime(ctx, lastRequestKey)
	if err != nil {
		return 0, false, err
	}
	backoffUntil, err := l.readTime(ctx, backoffKey)
	if err != nil {
		return 0, false, err
	}

	state, wait := classify(now, last, backoffUntil, l.minInterval)
	if wait > l.maxWait {
		return wait, true, nil
	}
	if state != stateReady {
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return wait, false, err
		}
	}

	if err := l.recordAttempt(ctx); err != nil {
		return wait, false, err
	}
	return wait, false, nil
}

// SetBackoff persists a server-issued backoff deadline for all workers.
func (l *Limiter) SetBackoff(ctx context.Context, retryAfter time.Duration) error {
	until := l.clock.Now().Add(retryAfter)
	ttl := retryAfter + time.Minute
	if err := l.client.Set(ctx, backoffKey, strconv.FormatInt(until.UnixMilli(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("record feed backoff: %w", err)
	}
	return nil
}

func (l *Limiter) recordAttempt(ctx context.Context) error {
	now := l.clock.Now()
	if err := l.client.Set(ctx, lastRequestKey, strconv.FormatInt(now.UnixMilli(), 10), 0).Err(); err != nil {
		return fmt.Errorf("record feed request time: %w", err)
	}
	return nil
}

func (l *Limiter) readTime(ctx context.Context, key string) (time.Time, error) {
	v, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read %s: %w", key, err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// classify computes the wait decision from the shared timing state. Pure so
// the Ready / WaitingLocal / WaitingServerBackoff transitions are testable
// without Redis.
func classify(now, last, backoffUntil time.Time, minInterval time.Duration) (waitState, time.Duration) {
	localWait := time.Duration(0)
	if !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < minInterval {
			localWait = minInterval - elapsed
		}
	}

	backoffWait := time.Duration(0)
	if backoffUntil.After(now) {
		backoffWait = backoffUntil.Sub(now)
	}

	switch {
	case backoffWait > localWait:
		return stateWaitingBackoff, backoffWait
	case localWait > 0:
		return stateWaitingLocal, localWait
	default:
		return stateReady, 0
	}
}
