package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newQueue(t *testing.T) *RedisQueue {
	t.Helper()
	addr := os.Getenv("MONTAGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MONTAGE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	q := NewRedisQueue(rdb, "montage-test:"+uuid.NewString())
	q.wait = 200 * time.Millisecond
	t.Cleanup(func() { _ = rdb.Del(context.Background(), q.Name()).Err() })
	return q
}

func TestQueueFIFO(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := q.Len(ctx); err != nil || n != 3 {
		t.Fatalf("Len = %d, %v", n, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Dequeue = %q, want %q", got, want)
		}
	}
}

func TestDequeueEmptyReturnsBlank(t *testing.T) {
	q := newQueue(t)

	start := time.Now()
	got, err := q.Dequeue(context.Background())
	if err != nil || got != "" {
		t.Fatalf("Dequeue = %q, %v", got, err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("Dequeue returned before the wait elapsed")
	}
}
