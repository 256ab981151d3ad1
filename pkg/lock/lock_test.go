package lock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb), mr
}

func TestAcquireRelease(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "pod.abc", 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Second acquire must fail while held.
	if _, err := m.Acquire(ctx, "pod.abc", 0); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrLocked", err)
	}

	if err := m.Release(ctx, l); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	// Released lock can be re-acquired.
	if _, err := m.Acquire(ctx, "pod.abc", 0); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
}

func TestRelease_WrongToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "pod.abc", 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	stolen := &Lock{Name: l.Name, Token: "not-the-token"}
	if err := m.Release(ctx, stolen); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release() with wrong token error = %v, want ErrNotHeld", err)
	}

	// The real holder can still release.
	if err := m.Release(ctx, l); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}

func TestRelease_AfterExpiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "pod.abc", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	mr.FastForward(2 * time.Second)

	if err := m.Release(ctx, l); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release() after expiry error = %v, want ErrNotHeld", err)
	}
}

func TestSetPayload_PreservesTTL(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "pod.abc", time.Minute); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := m.SetPayload(ctx, "pod.abc", map[string]string{"command": "start"}); err != nil {
		t.Fatalf("SetPayload() error = %v", err)
	}

	ttlBefore := mr.TTL("kd.exclusivelock-payload.pod.abc")
	if ttlBefore <= 0 {
		t.Fatalf("payload TTL = %v, want inherited from lock", ttlBefore)
	}

	// Overwriting the payload must not reset the TTL.
	if err := m.SetPayload(ctx, "pod.abc", map[string]string{"command": "stop"}); err != nil {
		t.Fatalf("SetPayload() overwrite error = %v", err)
	}
	ttlAfter := mr.TTL("kd.exclusivelock-payload.pod.abc")
	if ttlAfter <= 0 || ttlAfter > ttlBefore {
		t.Fatalf("payload TTL after overwrite = %v, want preserved (was %v)", ttlAfter, ttlBefore)
	}

	var payload map[string]string
	found, err := m.GetPayload(ctx, "pod.abc", &payload)
	if err != nil || !found {
		t.Fatalf("GetPayload() = %v, %v, want payload found", found, err)
	}
	if payload["command"] != "stop" {
		t.Fatalf("payload command = %q, want %q", payload["command"], "stop")
	}
}

func TestLockHandle_Serializable(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "pod.xyz", 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Ship the handle through JSON, as the job queue does, and release with
	// the deserialized copy.
	raw, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshaling lock handle: %v", err)
	}
	var restored Lock
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshaling lock handle: %v", err)
	}

	if err := m.Release(ctx, &restored); err != nil {
		t.Fatalf("Release() with restored handle error = %v", err)
	}
}

func TestAcquireBlocking(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "pod.abc", 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		blockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := m.AcquireBlocking(blockCtx, "pod.abc", 0)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := m.Release(ctx, l); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AcquireBlocking() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AcquireBlocking() did not return after release")
	}
}
