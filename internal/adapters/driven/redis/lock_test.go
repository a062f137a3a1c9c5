package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewLock(t *testing.T) {
	client, _ := setupTestRedis(t)

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	if lock1.OwnerID() == "" {
		t.Error("expected non-empty owner ID")
	}
	if lock1.OwnerID() == lock2.OwnerID() {
		t.Errorf("expected unique owner IDs, got same: %s", lock1.OwnerID())
	}
}

func TestLock_AcquireExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	acquired, err := lock1.Acquire(ctx, "projection-train", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected first instance to acquire")
	}

	// A second instance is rejected while the lock is held.
	acquired, err = lock2.Acquire(ctx, "projection-train", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Error("expected second instance to be rejected")
	}

	// Different lock names are independent.
	acquired, err = lock2.Acquire(ctx, "backlog-sweep", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Error("expected an unrelated lock name to acquire")
	}
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	if _, err := lock1.Acquire(ctx, "projection-train", 10*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A non-owner release is a silent no-op.
	if err := lock2.Release(ctx, "projection-train"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acquired, _ := lock2.Acquire(ctx, "projection-train", 10*time.Second)
	if acquired {
		t.Error("expected the lock to survive a non-owner release")
	}

	// The owner's release frees it.
	if err := lock1.Release(ctx, "projection-train"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acquired, _ = lock2.Acquire(ctx, "projection-train", 10*time.Second)
	if !acquired {
		t.Error("expected acquire to succeed after the owner released")
	}
}

func TestLock_ReleaseNotHeld(t *testing.T) {
	client, _ := setupTestRedis(t)

	lock := NewLock(client)
	if err := lock.Release(context.Background(), "projection-train"); err != nil {
		t.Errorf("unexpected error releasing unheld lock: %v", err)
	}
}

func TestLock_TTLExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	if _, err := lock1.Acquire(ctx, "projection-train", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A crashed holder never releases; the TTL frees the lock.
	mr.FastForward(2 * time.Second)

	acquired, err := lock2.Acquire(ctx, "projection-train", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Error("expected acquire to succeed after TTL expiry")
	}
}

func TestLock_Extend(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	if _, err := lock1.Acquire(ctx, "projection-train", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := lock1.Extend(ctx, "projection-train", 10*time.Second); err != nil {
		t.Fatalf("unexpected error on extend: %v", err)
	}

	// The original TTL would have expired; the extension keeps it held.
	mr.FastForward(2 * time.Second)
	acquired, _ := lock2.Acquire(ctx, "projection-train", time.Second)
	if acquired {
		t.Error("expected the extended lock to still be held")
	}

	// Only the owner can extend.
	if err := lock2.Extend(ctx, "projection-train", time.Second); err == nil {
		t.Error("expected error when a non-owner extends")
	}
	if err := lock2.Extend(ctx, "missing-lock", time.Second); err == nil {
		t.Error("expected error extending an unheld lock")
	}
}

func TestLock_Ping(t *testing.T) {
	client, _ := setupTestRedis(t)

	lock := NewLock(client)
	if err := lock.Ping(context.Background()); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
}
