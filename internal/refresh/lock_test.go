package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubLockStore struct {
	values map[string]string
}

func newStubLockStore() *stubLockStore {
	return &stubLockStore{values: map[string]string{}}
}

func (s *stubLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *stubLockStore) Get(_ context.Context, key string) (string, error) {
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *stubLockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func TestRunLockMutualExclusion(t *testing.T) {
	store := newStubLockStore()
	first, err := NewRedisRunLock(store, "bs:lock:refresh-worker", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunLock: %v", err)
	}
	second, err := NewRedisRunLock(store, "bs:lock:refresh-worker", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisRunLock: %v", err)
	}

	ok, err := first.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second acquire must fail while the lock is held")
	}

	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRunLockReleaseOnlyByOwner(t *testing.T) {
	store := newStubLockStore()
	holder, _ := NewRedisRunLock(store, "bs:lock:refresh-worker", time.Minute)
	bystander, _ := NewRedisRunLock(store, "bs:lock:refresh-worker", time.Minute)

	if ok, _ := holder.Acquire(context.Background()); !ok {
		t.Fatal("holder acquire failed")
	}
	// The bystander never acquired; releasing must not free the lock.
	if err := bystander.Release(context.Background()); err != nil {
		t.Fatalf("bystander release: %v", err)
	}
	if ok, _ := bystander.Acquire(context.Background()); ok {
		t.Fatal("lock freed by non-owner release")
	}
}
