package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeRedis implements the handful of commands the locker uses
type fakeRedis struct {
	redis.Cmdable
	data    map[string]string
	evalErr error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}
	if f.data[keys[0]] == args[0].(string) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLockerSingleFlight(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{}}
	locker := NewRedisLocker(fake, "wishlist:", zap.NewNop())
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "queue_drain", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock = %v, %v; want acquired", ok, err)
	}
	if _, ok := fake.data["wishlist:lock:queue_drain"]; !ok {
		t.Fatalf("lock key not written: %v", fake.data)
	}

	if _, ok, _ := locker.TryLock(ctx, "queue_drain", time.Minute); ok {
		t.Fatal("second TryLock acquired a held lock")
	}

	if _, ok, _ := locker.TryLock(ctx, "price_drop", time.Minute); !ok {
		t.Fatal("locks with different names should not conflict")
	}

	unlock()
	if _, ok, _ := locker.TryLock(ctx, "queue_drain", time.Minute); !ok {
		t.Fatal("TryLock after unlock should succeed")
	}
}

func TestRedisLockerUnlockKeepsForeignLock(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{}}
	locker := NewRedisLocker(fake, "", zap.NewNop())
	ctx := context.Background()

	unlock, _, _ := locker.TryLock(ctx, "retention", time.Minute)
	// lock expired and was taken by someone else
	fake.data["lock:retention"] = "other-owner"

	unlock()
	if fake.data["lock:retention"] != "other-owner" {
		t.Error("unlock released a lock it no longer owns")
	}
}

func TestRedisLockerLogsFailedRelease(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{}}
	core, logs := observer.New(zapcore.WarnLevel)
	locker := NewRedisLocker(fake, "", zap.New(core))

	unlock, ok, err := locker.TryLock(context.Background(), "reminder", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}

	fake.evalErr = errors.New("connection reset")
	unlock()

	entries := logs.FilterMessage("Failed to release lock").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d release failures, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["lock"]; got != "reminder" {
		t.Errorf("lock field = %v, want reminder", got)
	}
}
