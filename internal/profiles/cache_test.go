package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
	"github.com/storefrontlabs/billing-sync/pkg/redis"
)

type stubStore struct {
	data   map[string]string
	getErr error
	setErr error
	delErr error
}

func newStubStore() *stubStore {
	return &stubStore{data: map[string]string{}}
}

func (s *stubStore) Get(_ context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	value, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *stubStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = fmt.Sprint(value)
	return nil
}

func (s *stubStore) Del(_ context.Context, keys ...string) error {
	if s.delErr != nil {
		return s.delErr
	}
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *stubStore) SnapshotKey(customerID, profileID string) string {
	return "bs:profile_snapshot:" + customerID + ":" + profileID
}

func (s *stubStore) seed(t *testing.T, entry Entry) {
	t.Helper()
	payload, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	s.data[s.SnapshotKey(entry.CustomerID, entry.ProfileID)] = string(payload)
}

func testCache(t *testing.T, store SnapshotStore) *Cache {
	t.Helper()
	cache, err := NewCache(CacheParams{
		Store:  store,
		TTL:    300 * time.Second,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return cache
}

func testSubscription() *models.Subscription {
	return &models.Subscription{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		ProfileID:  "I-TEST1234",
		Status:     enums.ProfileStatusSuspended,
	}
}

func TestResolveFreshEntry(t *testing.T) {
	store := newStubStore()
	cache := testCache(t, store)
	sub := testSubscription()

	store.seed(t, Entry{
		CustomerID:  sub.CustomerID.String(),
		ProfileID:   sub.ProfileID,
		Status:      enums.ProfileStatusActive,
		Source:      enums.GatewayKindLegacy,
		RefreshedAt: time.Now().UTC().Add(-60 * time.Second),
	})

	resolution := cache.Resolve(context.Background(), sub)
	if resolution.RefreshPending {
		t.Fatalf("expected refreshPending=false, got reason %q", resolution.RefreshReason)
	}
	if resolution.Status != enums.ProfileStatusActive {
		t.Fatalf("expected cached status Active, got %s", resolution.Status)
	}
	if resolution.Source != enums.GatewayKindLegacy {
		t.Fatalf("expected legacy source, got %s", resolution.Source)
	}
}

func TestResolveStaleEntry(t *testing.T) {
	store := newStubStore()
	cache := testCache(t, store)
	sub := testSubscription()

	store.seed(t, Entry{
		CustomerID:  sub.CustomerID.String(),
		ProfileID:   sub.ProfileID,
		Status:      enums.ProfileStatusActive,
		RefreshedAt: time.Now().UTC().Add(-7200 * time.Second),
	})

	resolution := cache.Resolve(context.Background(), sub)
	if !resolution.RefreshPending {
		t.Fatal("expected refreshPending=true for stale entry")
	}
	if resolution.RefreshReason != RefreshReasonStale {
		t.Fatalf("expected reason %q, got %q", RefreshReasonStale, resolution.RefreshReason)
	}
	if resolution.Status != enums.ProfileStatusActive {
		t.Fatalf("stale status should still be served, got %s", resolution.Status)
	}
}

func TestResolveMissingEntry(t *testing.T) {
	cache := testCache(t, newStubStore())
	sub := testSubscription()

	resolution := cache.Resolve(context.Background(), sub)
	if !resolution.RefreshPending {
		t.Fatal("expected refreshPending=true for missing entry")
	}
	if resolution.RefreshReason != RefreshReasonMissing {
		t.Fatalf("expected reason %q, got %q", RefreshReasonMissing, resolution.RefreshReason)
	}
	if resolution.Status != sub.Status {
		t.Fatalf("expected fallback to local status %s, got %s", sub.Status, resolution.Status)
	}
}

func TestResolveDegradesOnStoreFailure(t *testing.T) {
	store := newStubStore()
	store.getErr = errors.New("connection refused")
	cache := testCache(t, store)
	sub := testSubscription()

	resolution := cache.Resolve(context.Background(), sub)
	if !resolution.RefreshPending || resolution.RefreshReason != RefreshReasonMissing {
		t.Fatalf("store failure should degrade to a miss, got %+v", resolution)
	}
	if resolution.Status != sub.Status {
		t.Fatalf("expected fallback to local status, got %s", resolution.Status)
	}
}

func TestResolveCorruptEntryIsMiss(t *testing.T) {
	store := newStubStore()
	cache := testCache(t, store)
	sub := testSubscription()
	store.data[store.SnapshotKey(sub.CustomerID.String(), sub.ProfileID)] = "{not json"

	resolution := cache.Resolve(context.Background(), sub)
	if resolution.RefreshReason != RefreshReasonMissing {
		t.Fatalf("corrupt entry should read as miss, got %q", resolution.RefreshReason)
	}
}

func TestPutStampsRefreshedAt(t *testing.T) {
	store := newStubStore()
	cache := testCache(t, store)
	sub := testSubscription()

	before := time.Now().UTC()
	err := cache.Put(context.Background(), Entry{
		CustomerID: sub.CustomerID.String(),
		ProfileID:  sub.ProfileID,
		Status:     enums.ProfileStatusActive,
		Source:     enums.GatewayKindREST,
		Snapshot:   map[string]any{"status": "ACTIVE"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, found := cache.Get(context.Background(), sub.CustomerID.String(), sub.ProfileID)
	if !found {
		t.Fatal("expected entry after Put")
	}
	if entry.RefreshedAt.Before(before) {
		t.Fatalf("RefreshedAt %s not stamped at write time", entry.RefreshedAt)
	}
	if cache.IsStale(entry) {
		t.Fatal("fresh write must not classify as stale")
	}
}

func TestPutRequiresIdentity(t *testing.T) {
	cache := testCache(t, newStubStore())
	if err := cache.Put(context.Background(), Entry{ProfileID: "I-X"}); err == nil {
		t.Fatal("expected error for entry without customer id")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	store := newStubStore()
	cache := testCache(t, store)
	sub := testSubscription()
	store.seed(t, Entry{
		CustomerID:  sub.CustomerID.String(),
		ProfileID:   sub.ProfileID,
		Status:      enums.ProfileStatusActive,
		RefreshedAt: time.Now().UTC(),
	})

	if err := cache.Invalidate(context.Background(), sub.CustomerID.String(), sub.ProfileID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, found := cache.Get(context.Background(), sub.CustomerID.String(), sub.ProfileID); found {
		t.Fatal("entry should be gone after Invalidate")
	}
}
