package stockcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HaoranTong/inventory-engine/pkg/db/models"
)

const defaultTTL = 30 * time.Second

// store defines the Redis operations the cache needs.
type store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	StockKey(skuID string) string
}

// Snapshot is the cached, read-only view of a SKU's counters. It is always
// disposable: any correctness decision re-verifies against the durable store.
type Snapshot struct {
	SKUID             string    `json:"sku_id"`
	TotalQty          int       `json:"total_qty"`
	ReservedQty       int       `json:"reserved_qty"`
	AvailableQty      int       `json:"available_qty"`
	WarningThreshold  int       `json:"warning_threshold"`
	CriticalThreshold int       `json:"critical_threshold"`
	CachedAt          time.Time `json:"cached_at"`
}

// Cache is a read-through/invalidate-on-write cache for stock snapshots.
type Cache struct {
	store store
	ttl   time.Duration
	now   func() time.Time
}

// New builds a stock snapshot cache on top of the provided Redis store.
func New(st store, ttl time.Duration) (*Cache, error) {
	if st == nil {
		return nil, fmt.Errorf("redis store required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{store: st, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached snapshot for a SKU and whether it was a hit.
// Redis misses and decode failures both read as cache misses.
func (c *Cache) Get(ctx context.Context, skuID string) (*Snapshot, bool, error) {
	raw, err := c.store.Get(ctx, c.store.StockKey(skuID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %s: %w", skuID, err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		// A corrupt value is treated as a miss; the next Put overwrites it.
		return nil, false, nil
	}
	return &snapshot, true, nil
}

// Put stores the snapshot derived from the authoritative record.
func (c *Cache) Put(ctx context.Context, record models.StockRecord) (*Snapshot, error) {
	snapshot := Snapshot{
		SKUID:             record.SKUID,
		TotalQty:          record.TotalQty,
		ReservedQty:       record.ReservedQty,
		AvailableQty:      record.AvailableQty(),
		WarningThreshold:  record.WarningThreshold,
		CriticalThreshold: record.CriticalThreshold,
		CachedAt:          c.now().UTC(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("cache encode %s: %w", record.SKUID, err)
	}
	if err := c.store.Set(ctx, c.store.StockKey(record.SKUID), string(payload), c.ttl); err != nil {
		return nil, fmt.Errorf("cache put %s: %w", record.SKUID, err)
	}
	return &snapshot, nil
}

// Invalidate drops the cached snapshots for the given SKUs.
func (c *Cache) Invalidate(ctx context.Context, skuIDs ...string) error {
	if len(skuIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(skuIDs))
	for _, skuID := range skuIDs {
		if skuID == "" {
			continue
		}
		keys = append(keys, c.store.StockKey(skuID))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
