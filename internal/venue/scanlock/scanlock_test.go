package scanlock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/venuegate/server/internal/venue/scanlock"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := scanlock.NewLocal()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "1:1:DEMO-001")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("expected at most one holder, saw %d", maxInside.Load())
	}
	if l.Len() != 0 {
		t.Errorf("expected all keys released, %d left", l.Len())
	}
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := scanlock.NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other, err := l.Lock(context.Background(), "other")
	if err != nil {
		t.Fatalf("independent key must not block: %v", err)
	}
	other()
}

// ── Redis ───────────────────────────────────────────────────────────────────

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedis_LockAndRelease(t *testing.T) {
	mr, client := newRedis(t)
	l := scanlock.NewRedis(client, scanlock.RedisOptions{Wait: 50 * time.Millisecond})

	unlock, err := l.Lock(context.Background(), "1:2:ABC")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !mr.Exists("venuegate:scanlock:1:2:ABC") {
		t.Fatal("expected lock key in redis")
	}

	if _, err := l.Lock(context.Background(), "1:2:ABC"); !errors.Is(err, scanlock.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}

	unlock()
	if mr.Exists("venuegate:scanlock:1:2:ABC") {
		t.Fatal("expected lock key removed on release")
	}

	again, err := l.Lock(context.Background(), "1:2:ABC")
	if err != nil {
		t.Fatalf("re-Lock: %v", err)
	}
	again()
}

func TestRedis_ReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, client := newRedis(t)
	l := scanlock.NewRedis(client, scanlock.RedisOptions{TTL: time.Second})

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// Lock expired and was taken by another holder.
	mr.FastForward(2 * time.Second)
	if err := mr.Set("venuegate:scanlock:k", "someone-else"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	unlock()
	if got, _ := mr.Get("venuegate:scanlock:k"); got != "someone-else" {
		t.Errorf("release removed another holder's lock; value now %q", got)
	}
}

func TestDial_Ping(t *testing.T) {
	mr, _ := newRedis(t)
	addr := mr.Addr()
	client, err := scanlock.Dial(context.Background(), addr, "", 0, false)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Close()

	mr.Close()
	if _, err := scanlock.Dial(context.Background(), addr, "", 0, false); err == nil {
		t.Fatal("expected error dialing a closed server")
	}
}
