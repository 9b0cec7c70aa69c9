package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

func TestLocalLockerExcludesSameKey(t *testing.T) {
	l := NewLocalLocker(time.Second)
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "job-1")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside.Load())
	}
	if len(l.slots) != 0 {
		t.Fatalf("slots leaked: %d", len(l.slots))
	}
}

func TestLocalLockerDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocalLocker(50 * time.Millisecond)
	r1, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer r1()
	r2, err := l.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	r2()
}

func TestLocalLockerReportsBusy(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	release, err := l.Acquire(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if _, err := l.Acquire(context.Background(), "job-1"); !errors.Is(err, domain.ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}
}

func TestLocalLockerReleaseIsIdempotent(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	release, _ := l.Acquire(context.Background(), "k")
	release()
	release()
	again, err := l.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

// TestRedisLocker runs against a real server when REDIS_TEST_URL is set.
func TestRedisLocker(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	l := NewRedisLocker(client, time.Second, 50*time.Millisecond, nil)
	key := "test-" + time.Now().Format("150405.000000")
	release, err := l.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := l.Acquire(context.Background(), key); !errors.Is(err, domain.ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}
	release()
	again, err := l.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}
