package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/storefrontlabs/billing-sync/pkg/db/models"
	"github.com/storefrontlabs/billing-sync/pkg/enums"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
	"github.com/storefrontlabs/billing-sync/pkg/redis"
)

const (
	// RefreshReasonMissing marks a resolve that found no cached snapshot.
	RefreshReasonMissing = "missing_cache"
	// RefreshReasonStale marks a resolve that found a snapshot older than
	// the staleness TTL.
	RefreshReasonStale = "stale_cache"

	defaultCacheTTL = 300 * time.Second

	// snapshotRetention keeps stale entries physically servable well past
	// the staleness TTL. Staleness is a classification, not an eviction.
	snapshotRetention = 24 * time.Hour
)

// SnapshotStore is the slice of the Redis client the cache needs.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SnapshotKey(customerID, profileID string) string
}

// Entry is the last-known remote snapshot for one (customer, profile) pair.
type Entry struct {
	CustomerID  string              `json:"customer_id"`
	ProfileID   string              `json:"profile_id"`
	Status      enums.ProfileStatus `json:"status"`
	Source      enums.GatewayKind   `json:"source,omitempty"`
	Snapshot    map[string]any      `json:"snapshot,omitempty"`
	RefreshedAt time.Time           `json:"refreshed_at"`
}

// Resolution is what read paths consume: the best available status plus a
// flag telling the caller whether a background refresh is warranted.
type Resolution struct {
	Status         enums.ProfileStatus
	Snapshot       map[string]any
	Source         enums.GatewayKind
	RefreshedAt    time.Time
	RefreshPending bool
	RefreshReason  string
}

// Cache is a staleness-aware read-through cache of remote profile snapshots.
// It never makes remote calls; a backing-store failure degrades to a miss.
type Cache struct {
	store SnapshotStore
	ttl   time.Duration
	log   *logger.Logger
}

// CacheParams configures the cache.
type CacheParams struct {
	Store  SnapshotStore
	TTL    time.Duration
	Logger *logger.Logger
}

// NewCache builds a cache over the provided snapshot store.
func NewCache(params CacheParams) (*Cache, error) {
	if params.Store == nil {
		return nil, errors.New("profiles: snapshot store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("profiles: logger is required")
	}
	if params.TTL <= 0 {
		params.TTL = defaultCacheTTL
	}
	return &Cache{
		store: params.Store,
		ttl:   params.TTL,
		log:   params.Logger,
	}, nil
}

// TTL returns the configured staleness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached entry for the pair, if any. Store failures are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, customerID, profileID string) (*Entry, bool) {
	raw, err := c.store.Get(ctx, c.store.SnapshotKey(customerID, profileID))
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn(c.log.WithProfileID(ctx, profileID), "snapshot cache read failed, treating as miss")
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.Warn(c.log.WithProfileID(ctx, profileID), "snapshot cache entry unreadable, treating as miss")
		return nil, false
	}
	return &entry, true
}

// Put upserts the snapshot for the pair, stamping RefreshedAt.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	if entry.CustomerID == "" || entry.ProfileID == "" {
		return errors.New("profiles: cache entry requires customer and profile ids")
	}
	entry.RefreshedAt = time.Now().UTC()
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := c.store.SnapshotKey(entry.CustomerID, entry.ProfileID)
	return c.store.Set(ctx, key, string(payload), snapshotRetention)
}

// Invalidate removes the cached entry so the next read is forced fresh.
// Lifecycle callers invoke this after any command that changed remote state.
func (c *Cache) Invalidate(ctx context.Context, customerID, profileID string) error {
	return c.store.Del(ctx, c.store.SnapshotKey(customerID, profileID))
}

// IsStale reports whether the entry is older than the staleness window.
func (c *Cache) IsStale(entry *Entry) bool {
	if entry == nil {
		return true
	}
	return time.Since(entry.RefreshedAt) > c.ttl
}

// Resolve is the primary read path. It returns the cached status when one
// exists, falling back to the subscription's last-known local status on a
// miss, and flags whether a refresh is pending and why.
func (c *Cache) Resolve(ctx context.Context, sub *models.Subscription) Resolution {
	if sub == nil {
		return Resolution{
			Status:         enums.ProfileStatusUnknown,
			RefreshPending: true,
			RefreshReason:  RefreshReasonMissing,
		}
	}
	entry, found := c.Get(ctx, sub.CustomerID.String(), sub.ProfileID)
	if !found {
		return Resolution{
			Status:         sub.Status,
			RefreshPending: true,
			RefreshReason:  RefreshReasonMissing,
		}
	}
	resolution := Resolution{
		Status:      entry.Status,
		Snapshot:    entry.Snapshot,
		Source:      entry.Source,
		RefreshedAt: entry.RefreshedAt,
	}
	if c.IsStale(entry) {
		resolution.RefreshPending = true
		resolution.RefreshReason = RefreshReasonStale
	}
	return resolution
}
