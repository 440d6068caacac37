package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/internal/ledger"
	"github.com/HaoranTong/inventory-engine/pkg/db"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
)

func newTestStore(t *testing.T) (*Store, *db.Client) {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.StockRecord{}, &models.LedgerEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store, err := NewStore(NewRepository(conn), ledger.NewRepository(conn))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, db.NewWithConn(conn)
}

func mustAdjust(t *testing.T, store *Store, skuID string, delta int) *models.StockRecord {
	t.Helper()
	record, err := store.Mutate(context.Background(), MutateInput{
		SKUID:      skuID,
		TotalDelta: delta,
		Kind:       enums.LedgerEntryKindAdjust,
		Operator:   "admin",
	})
	if err != nil {
		t.Fatalf("seed adjust %s: %v", skuID, err)
	}
	return record
}

func ledgerEntries(t *testing.T, client *db.Client, skuID string) []models.LedgerEntry {
	t.Helper()
	var entries []models.LedgerEntry
	if err := client.DB().
		Where("sku_id = ?", skuID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		t.Fatalf("load ledger entries: %v", err)
	}
	return entries
}

func TestGetOrCreateLazilyCreates(t *testing.T) {
	store, _ := newTestStore(t)

	record, err := store.GetOrCreate(context.Background(), "sku-001")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if record.TotalQty != 0 || record.ReservedQty != 0 || record.Version != 0 {
		t.Fatalf("expected zeroed record, got %+v", record)
	}

	again, err := store.GetOrCreate(context.Background(), "sku-001")
	if err != nil {
		t.Fatalf("GetOrCreate second call: %v", err)
	}
	if again.SKUID != record.SKUID {
		t.Fatal("expected the same record back")
	}
}

func TestFindMissingRecord(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Find(context.Background(), "sku-missing"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMutateWritesLedgerAndBumpsVersion(t *testing.T) {
	store, client := newTestStore(t)
	mustAdjust(t, store, "sku-001", 100)

	record, err := store.Mutate(context.Background(), MutateInput{
		SKUID:        "sku-001",
		ReserveDelta: 30,
		Kind:         enums.LedgerEntryKindReserve,
		ReferenceID:  "cart-42",
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if record.TotalQty != 100 || record.ReservedQty != 30 {
		t.Fatalf("unexpected counters: %+v", record)
	}
	if record.Version != 2 {
		t.Fatalf("expected version 2, got %d", record.Version)
	}

	entries := ledgerEntries(t, client, "sku-001")
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	reserve := entries[1]
	if reserve.Kind != enums.LedgerEntryKindReserve || reserve.QtyDelta != 30 {
		t.Fatalf("unexpected reserve entry: %+v", reserve)
	}
	if reserve.ReservedBefore != 0 || reserve.ReservedAfter != 30 {
		t.Fatalf("unexpected reserved window: %+v", reserve)
	}
	if reserve.Operator != models.OperatorSystem {
		t.Fatalf("expected system operator default, got %q", reserve.Operator)
	}
}

func TestMutateInsufficientStock(t *testing.T) {
	store, client := newTestStore(t)
	mustAdjust(t, store, "sku-001", 10)

	_, err := store.Mutate(context.Background(), MutateInput{
		SKUID:        "sku-001",
		ReserveDelta: 11,
		Kind:         enums.LedgerEntryKindReserve,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", pkgerrors.As(err).Details())
	}
	if details["requested"] != 11 || details["available"] != 10 {
		t.Fatalf("unexpected details: %v", details)
	}

	// The failed mutation must not journal anything.
	if entries := ledgerEntries(t, client, "sku-001"); len(entries) != 1 {
		t.Fatalf("expected only the seed entry, got %d", len(entries))
	}
}

func TestMutateRejectsNegativeTotal(t *testing.T) {
	store, _ := newTestStore(t)
	mustAdjust(t, store, "sku-001", 5)

	_, err := store.Mutate(context.Background(), MutateInput{
		SKUID:      "sku-001",
		TotalDelta: -6,
		Kind:       enums.LedgerEntryKindAdjust,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidAdjustment) {
		t.Fatalf("expected invalid adjustment, got %v", err)
	}
}

func TestMutateRejectsTotalBelowReserved(t *testing.T) {
	store, _ := newTestStore(t)
	mustAdjust(t, store, "sku-001", 10)
	if _, err := store.Mutate(context.Background(), MutateInput{
		SKUID:        "sku-001",
		ReserveDelta: 8,
		Kind:         enums.LedgerEntryKindReserve,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := store.Mutate(context.Background(), MutateInput{
		SKUID:      "sku-001",
		TotalDelta: -5,
		Kind:       enums.LedgerEntryKindAdjust,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidAdjustment) {
		t.Fatalf("expected invalid adjustment, got %v", err)
	}
}

func TestMutateVersionMismatch(t *testing.T) {
	store, _ := newTestStore(t)
	record := mustAdjust(t, store, "sku-001", 10)

	stale := record.Version - 1
	_, err := store.Mutate(context.Background(), MutateInput{
		SKUID:           "sku-001",
		TotalDelta:      1,
		Kind:            enums.LedgerEntryKindAdjust,
		ExpectedVersion: &stale,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestMutateLostUpdateRace(t *testing.T) {
	store, client := newTestStore(t)
	record := mustAdjust(t, store, "sku-001", 10)

	// Another writer bumps the row between our read and guarded update.
	pinned := record.Version
	if err := client.DB().
		Model(&models.StockRecord{}).
		Where("sku_id = ?", "sku-001").
		Update("version", record.Version+1).Error; err != nil {
		t.Fatalf("simulate concurrent writer: %v", err)
	}

	_, err := store.Mutate(context.Background(), MutateInput{
		SKUID:           "sku-001",
		TotalDelta:      1,
		Kind:            enums.LedgerEntryKindAdjust,
		ExpectedVersion: &pinned,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestMutateKindDeltaConsistency(t *testing.T) {
	store, _ := newTestStore(t)

	cases := []struct {
		name  string
		input MutateInput
	}{
		{"reserve with total delta", MutateInput{SKUID: "s", ReserveDelta: 1, TotalDelta: 1, Kind: enums.LedgerEntryKindReserve}},
		{"release increasing reserved", MutateInput{SKUID: "s", ReserveDelta: 1, Kind: enums.LedgerEntryKindRelease}},
		{"deduct with mismatched deltas", MutateInput{SKUID: "s", ReserveDelta: -2, TotalDelta: -1, Kind: enums.LedgerEntryKindDeduct}},
		{"adjust touching reserved", MutateInput{SKUID: "s", ReserveDelta: 1, TotalDelta: 1, Kind: enums.LedgerEntryKindAdjust}},
		{"no-op", MutateInput{SKUID: "s", Kind: enums.LedgerEntryKindAdjust}},
		{"unknown kind", MutateInput{SKUID: "s", TotalDelta: 1, Kind: enums.LedgerEntryKind("bogus")}},
	}
	for _, tc := range cases {
		if _, err := store.Mutate(context.Background(), tc.input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestBatchMutateAppliesInAscendingSKUOrder(t *testing.T) {
	store, client := newTestStore(t)
	mustAdjust(t, store, "sku-b", 10)
	mustAdjust(t, store, "sku-a", 10)

	var records []models.StockRecord
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var innerErr error
		records, innerErr = store.WithTx(tx).BatchMutate(context.Background(), []MutateInput{
			{SKUID: "sku-b", ReserveDelta: 2, Kind: enums.LedgerEntryKindReserve, ReferenceID: "order-1"},
			{SKUID: "sku-a", ReserveDelta: 3, Kind: enums.LedgerEntryKindReserve, ReferenceID: "order-1"},
		})
		return innerErr
	})
	if err != nil {
		t.Fatalf("BatchMutate: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SKUID != "sku-a" || records[1].SKUID != "sku-b" {
		t.Fatalf("expected ascending SKU order, got %s then %s", records[0].SKUID, records[1].SKUID)
	}
}

func TestBatchMutateRollsBackOnPartialFailure(t *testing.T) {
	store, client := newTestStore(t)
	mustAdjust(t, store, "sku-a", 10)
	mustAdjust(t, store, "sku-b", 1)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, innerErr := store.WithTx(tx).BatchMutate(context.Background(), []MutateInput{
			{SKUID: "sku-a", ReserveDelta: 5, Kind: enums.LedgerEntryKindReserve, ReferenceID: "order-9"},
			{SKUID: "sku-b", ReserveDelta: 5, Kind: enums.LedgerEntryKindReserve, ReferenceID: "order-9"},
		})
		return innerErr
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// The first mutation must have been rolled back with the transaction.
	record, findErr := store.Find(context.Background(), "sku-a")
	if findErr != nil {
		t.Fatalf("Find: %v", findErr)
	}
	if record.ReservedQty != 0 {
		t.Fatalf("expected rollback of sku-a reservation, got reserved=%d", record.ReservedQty)
	}
	if entries := ledgerEntries(t, client, "sku-a"); len(entries) != 1 {
		t.Fatalf("expected only the seed ledger entry, got %d", len(entries))
	}
}

func TestLowStock(t *testing.T) {
	store, _ := newTestStore(t)
	mustAdjust(t, store, "sku-low", 5)
	mustAdjust(t, store, "sku-high", 100)

	if err := store.repo.UpdateThresholds(context.Background(), "sku-low", 10, 3); err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}
	if err := store.repo.UpdateThresholds(context.Background(), "sku-high", 10, 3); err != nil {
		t.Fatalf("UpdateThresholds: %v", err)
	}

	records, err := store.LowStock(context.Background())
	if err != nil {
		t.Fatalf("LowStock: %v", err)
	}
	if len(records) != 1 || records[0].SKUID != "sku-low" {
		t.Fatalf("unexpected low stock set: %+v", records)
	}
}
