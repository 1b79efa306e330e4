package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func assertExclusive(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "k")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside)
	}
}

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	assertExclusive(t, l)
	if l.Size() != 0 {
		t.Fatalf("expected no leftover keys, got %d", l.Size())
	}
}

func TestLocalRespectsContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "k"); err == nil {
		t.Fatal("expected context error while key is held")
	}
	if _, err := l.Acquire(context.Background(), "other"); err != nil {
		t.Fatalf("other key should not block: %v", err)
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedisExclusive(t *testing.T) {
	_, client := newRedis(t)
	assertExclusive(t, NewRedis(client, time.Second, "test:"))
}

func TestRedisReleaseChecksToken(t *testing.T) {
	s, client := newRedis(t)
	l := NewRedis(client, 100*time.Millisecond, "test:")
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// TTL expira e outro dono assume a chave
	s.FastForward(200 * time.Millisecond)
	if err := s.Set("test:k", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}

	release()
	if got, _ := s.Get("test:k"); got != "someone-else" {
		t.Fatalf("release removed a lock it did not own, value=%q", got)
	}
}

func TestRedisRespectsContext(t *testing.T) {
	_, client := newRedis(t)
	l := NewRedis(client, time.Second, "test:")
	release, err := l.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "k"); err == nil {
		t.Fatal("expected context error while key is held")
	}
}
