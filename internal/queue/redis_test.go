package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client), mr, client
}

func TestPublishConsume(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type job struct {
		ID int64 `json:"id"`
	}
	if err := q.Publish(ctx, "jobs", job{ID: 7}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	received := make(chan []byte, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, "jobs", func(payload []byte) error {
			received <- payload
			return nil
		})
	}()

	select {
	case payload := <-received:
		var got job
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if got.ID != 7 {
			t.Errorf("job ID = %d, want 7", got.ID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("handler never received the job")
	}

	cancel()
	<-done
}

func TestFailingJobLandsInDLQ(t *testing.T) {
	q, _, client := newTestQueue(t)
	q.retryDelay = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, "jobs", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, "jobs", func([]byte) error {
			attempts.Add(1)
			return errors.New("boom")
		})
	}()

	// One initial delivery plus maxRetryAttempts retries, then the DLQ.
	deadline := time.After(15 * time.Second)
	for {
		n, err := client.LLen(context.Background(), "jobs:dlq").Result()
		if err == nil && n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached the DLQ, attempts = %d", attempts.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if got := attempts.Load(); got != int32(maxRetryAttempts)+1 {
		t.Errorf("attempts = %d, want %d", got, maxRetryAttempts+1)
	}
	if n, _ := client.LLen(context.Background(), "jobs:retry").Result(); n != 0 {
		t.Errorf("retry queue length = %d, want 0", n)
	}
	if n, _ := client.Keys(context.Background(), "jobs:retry-count:*").Result(); len(n) != 0 {
		t.Errorf("retry counters left behind: %v", n)
	}
}

func TestRetryIsDelayed(t *testing.T) {
	q, _, client := newTestQueue(t)
	q.retryDelay = 300 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, "jobs", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	firstFailure := make(chan time.Time, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, "jobs", func([]byte) error {
			select {
			case firstFailure <- time.Now():
			default:
			}
			return errors.New("boom")
		})
	}()

	var failedAt time.Time
	select {
	case failedAt = <-firstFailure:
	case <-time.After(10 * time.Second):
		t.Fatal("handler never received the job")
	}

	// Stop the consumer so nothing pops the retry list; the delayed
	// re-queue is detached from the consumer context and must still land.
	cancel()
	<-done

	if n, _ := client.LLen(context.Background(), "jobs:retry").Result(); n != 0 {
		t.Error("job re-queued immediately, want a delayed retry")
	}

	deadline := time.After(10 * time.Second)
	for {
		n, err := client.LLen(context.Background(), "jobs:retry").Result()
		if err == nil && n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never returned to the retry list")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if waited := time.Since(failedAt); waited < q.retryDelay {
		t.Errorf("job re-queued after %s, want at least %s", waited, q.retryDelay)
	}
}

func TestConsumeConcurrentProcessesAll(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		if err := q.Publish(ctx, "jobs", map[string]int{"n": i}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	var handled atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.ConsumeConcurrent(ctx, "jobs", 4, 8, func([]byte) error {
			handled.Add(1)
			return nil
		})
	}()

	deadline := time.After(15 * time.Second)
	for handled.Load() < jobs {
		select {
		case <-deadline:
			t.Fatalf("handled %d of %d jobs", handled.Load(), jobs)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
