package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HaoranTong/inventory-engine/internal/stockcache"
	"github.com/HaoranTong/inventory-engine/pkg/db"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
)

type fakeCache struct {
	snapshots   map[string]*stockcache.Snapshot
	invalidated []string
	getErr      error
	putErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: map[string]*stockcache.Snapshot{}}
}

func (f *fakeCache) Get(ctx context.Context, skuID string) (*stockcache.Snapshot, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	snapshot, ok := f.snapshots[skuID]
	return snapshot, ok, nil
}

func (f *fakeCache) Put(ctx context.Context, record models.StockRecord) (*stockcache.Snapshot, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	snapshot := &stockcache.Snapshot{
		SKUID:        record.SKUID,
		TotalQty:     record.TotalQty,
		ReservedQty:  record.ReservedQty,
		AvailableQty: record.AvailableQty(),
		CachedAt:     time.Now().UTC(),
	}
	f.snapshots[record.SKUID] = snapshot
	return snapshot, nil
}

func (f *fakeCache) Invalidate(ctx context.Context, skuIDs ...string) error {
	f.invalidated = append(f.invalidated, skuIDs...)
	for _, skuID := range skuIDs {
		delete(f.snapshots, skuID)
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *Store, *fakeCache, *db.Client) {
	t.Helper()
	store, client := newTestStore(t)
	cache := newFakeCache()
	log := logger.New(logger.Options{ServiceName: "inventory-test"})

	svc, err := NewService(store, client, cache, log, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, cache, client
}

func TestGetStockServesFromCache(t *testing.T) {
	svc, _, cache, _ := newTestService(t)
	cache.snapshots["sku-001"] = &stockcache.Snapshot{SKUID: "sku-001", TotalQty: 7, AvailableQty: 7}

	snapshot, err := svc.GetStock(context.Background(), "sku-001")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if snapshot.TotalQty != 7 {
		t.Fatalf("expected cached snapshot, got %+v", snapshot)
	}
}

func TestGetStockMissFillsCache(t *testing.T) {
	svc, store, cache, _ := newTestService(t)
	mustAdjust(t, store, "sku-001", 40)

	snapshot, err := svc.GetStock(context.Background(), "sku-001")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if snapshot.TotalQty != 40 || snapshot.AvailableQty != 40 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if _, ok := cache.snapshots["sku-001"]; !ok {
		t.Fatal("expected snapshot to be cached after the miss")
	}
}

func TestGetStockCacheFailuresFallThrough(t *testing.T) {
	svc, store, cache, _ := newTestService(t)
	mustAdjust(t, store, "sku-001", 12)
	cache.getErr = errors.New("redis down")
	cache.putErr = errors.New("redis down")

	snapshot, err := svc.GetStock(context.Background(), "sku-001")
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if snapshot.TotalQty != 12 {
		t.Fatalf("expected database view, got %+v", snapshot)
	}
}

func TestAdjustAppliesAndInvalidates(t *testing.T) {
	svc, store, cache, _ := newTestService(t)
	mustAdjust(t, store, "sku-001", 10)
	cache.snapshots["sku-001"] = &stockcache.Snapshot{SKUID: "sku-001", TotalQty: 10}

	record, err := svc.Adjust(context.Background(), AdjustInput{
		SKUID:      "sku-001",
		TotalDelta: 5,
		Operator:   "admin",
	})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if record.TotalQty != 15 {
		t.Fatalf("expected total 15, got %d", record.TotalQty)
	}
	if len(cache.invalidated) == 0 || cache.invalidated[0] != "sku-001" {
		t.Fatalf("expected cache invalidation, got %v", cache.invalidated)
	}
}

func TestAdjustPinnedVersionDoesNotRetry(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	record := mustAdjust(t, store, "sku-001", 10)

	stale := record.Version - 1
	_, err := svc.Adjust(context.Background(), AdjustInput{
		SKUID:           "sku-001",
		TotalDelta:      1,
		ExpectedVersion: &stale,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Adjust(context.Background(), AdjustInput{SKUID: "sku-001"}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetThresholds(t *testing.T) {
	svc, store, cache, _ := newTestService(t)
	mustAdjust(t, store, "sku-001", 10)

	record, err := svc.SetThresholds(context.Background(), "sku-001", 8, 3)
	if err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	if record.WarningThreshold != 8 || record.CriticalThreshold != 3 {
		t.Fatalf("unexpected thresholds: %+v", record)
	}
	if len(cache.invalidated) == 0 {
		t.Fatal("expected cache invalidation after threshold update")
	}

	if _, err := svc.SetThresholds(context.Background(), "sku-001", 3, 8); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for inverted thresholds, got %v", err)
	}
}

func TestLowStockViaService(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	mustAdjust(t, store, "sku-low", 2)
	if _, err := svc.SetThresholds(context.Background(), "sku-low", 5, 1); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}

	records, err := svc.LowStock(context.Background())
	if err != nil {
		t.Fatalf("LowStock: %v", err)
	}
	if len(records) != 1 || records[0].SKUID != "sku-low" {
		t.Fatalf("unexpected low stock set: %+v", records)
	}
}
