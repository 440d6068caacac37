package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/internal/ledger"
	"github.com/HaoranTong/inventory-engine/internal/reservation"
	"github.com/HaoranTong/inventory-engine/pkg/db"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
)

type fakeInvalidator struct {
	skuIDs []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, skuIDs ...string) error {
	f.skuIDs = append(f.skuIDs, skuIDs...)
	return nil
}

type expiryEnv struct {
	job    *ExpiryJob
	repo   reservation.Repository
	store  *inventory.Store
	client *db.Client
	cache  *fakeInvalidator
}

func newExpiryEnv(t *testing.T, batchSize int) *expiryEnv {
	t.Helper()
	dsn := "file:sweeper_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.StockRecord{}, &models.LedgerEntry{}, &models.Reservation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store, err := inventory.NewStore(inventory.NewRepository(conn), ledger.NewRepository(conn))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	client := db.NewWithConn(conn)
	repo := reservation.NewRepository(conn)
	cache := &fakeInvalidator{}

	job, err := NewExpiryJob(ExpiryJobParams{
		Repo:      repo,
		Store:     store,
		DB:        client,
		Cache:     cache,
		Logger:    logger.New(logger.Options{ServiceName: "sweeper-test"}),
		BatchSize: batchSize,
	})
	if err != nil {
		t.Fatalf("NewExpiryJob: %v", err)
	}
	return &expiryEnv{job: job, repo: repo, store: store, client: client, cache: cache}
}

func (e *expiryEnv) seedStock(t *testing.T, skuID string, qty int) {
	t.Helper()
	if _, err := e.store.Mutate(context.Background(), inventory.MutateInput{
		SKUID:      skuID,
		TotalDelta: qty,
		Kind:       enums.LedgerEntryKindAdjust,
		Operator:   "admin",
	}); err != nil {
		t.Fatalf("seed stock %s: %v", skuID, err)
	}
}

func (e *expiryEnv) hold(t *testing.T, skuID, referenceID string, qty int, expiresAt time.Time) *models.Reservation {
	t.Helper()
	if _, err := e.store.Mutate(context.Background(), inventory.MutateInput{
		SKUID:        skuID,
		ReserveDelta: qty,
		Kind:         enums.LedgerEntryKindReserve,
		ReferenceID:  referenceID,
	}); err != nil {
		t.Fatalf("reserve %s: %v", skuID, err)
	}
	res := &models.Reservation{
		SKUID:       skuID,
		Kind:        enums.ReservationKindCart,
		ReferenceID: referenceID,
		Qty:         qty,
		ExpiresAt:   expiresAt,
	}
	if err := e.repo.Create(context.Background(), res); err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	return res
}

func (e *expiryEnv) stockRecord(t *testing.T, skuID string) *models.StockRecord {
	t.Helper()
	record, err := e.store.Find(context.Background(), skuID)
	if err != nil {
		t.Fatalf("load stock %s: %v", skuID, err)
	}
	return record
}

func TestExpiryJobReleasesOverdueHolds(t *testing.T) {
	env := newExpiryEnv(t, 10)
	env.seedStock(t, "sku-001", 10)
	overdue := env.hold(t, "sku-001", "cart-1", 4, time.Now().UTC().Add(-time.Minute))
	fresh := env.hold(t, "sku-001", "cart-2", 2, time.Now().UTC().Add(time.Hour))

	if err := env.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	record := env.stockRecord(t, "sku-001")
	if record.ReservedQty != 2 {
		t.Fatalf("expected only the fresh hold reserved, got %d", record.ReservedQty)
	}
	if record.TotalQty != 10 {
		t.Fatalf("expiration must not change total quantity, got %d", record.TotalQty)
	}

	expiredRow, err := env.repo.Find(context.Background(), overdue.ID)
	if err != nil {
		t.Fatalf("Find expired: %v", err)
	}
	if expiredRow.Status != enums.ReservationStatusExpired {
		t.Fatalf("expected expired status, got %s", expiredRow.Status)
	}

	freshRow, err := env.repo.Find(context.Background(), fresh.ID)
	if err != nil {
		t.Fatalf("Find fresh: %v", err)
	}
	if freshRow.Status != enums.ReservationStatusActive {
		t.Fatalf("fresh hold must stay active, got %s", freshRow.Status)
	}

	if len(env.cache.skuIDs) == 0 || env.cache.skuIDs[0] != "sku-001" {
		t.Fatalf("expected cache invalidation, got %v", env.cache.skuIDs)
	}
}

func TestExpiryJobDrainsAcrossBatches(t *testing.T) {
	env := newExpiryEnv(t, 2)
	env.seedStock(t, "sku-001", 20)
	for i := 0; i < 5; i++ {
		env.hold(t, "sku-001", "cart-"+uuid.NewString(), 1, time.Now().UTC().Add(-time.Minute))
	}

	if err := env.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := env.stockRecord(t, "sku-001").ReservedQty; got != 0 {
		t.Fatalf("expected every overdue hold released, got reserved %d", got)
	}
}

func TestExpiryJobSkipsRowsLostToDeduction(t *testing.T) {
	env := newExpiryEnv(t, 10)
	env.seedStock(t, "sku-001", 10)
	overdue := env.hold(t, "sku-001", "order-1", 3, time.Now().UTC().Add(-time.Minute))

	// A deduction wins the transition before the sweep reaches the row.
	won, err := env.repo.CASStatus(context.Background(), overdue.ID, enums.ReservationStatusActive, enums.ReservationStatusConsumed)
	if err != nil || !won {
		t.Fatalf("CASStatus: won=%v err=%v", won, err)
	}

	if err := env.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The consumed row keeps its units deducted path; the sweep must not
	// return them.
	record := env.stockRecord(t, "sku-001")
	if record.ReservedQty != 3 {
		t.Fatalf("sweep must not touch consumed holds, got reserved %d", record.ReservedQty)
	}
}

// flakyTxRunner fails the first transactions with a counter version conflict
// and delegates afterward.
type flakyTxRunner struct {
	inner    txRunner
	failures int
	calls    int
}

func (f *flakyTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return pkgerrors.New(pkgerrors.CodeConcurrentModification, "stock record changed concurrently")
	}
	return f.inner.WithTx(ctx, fn)
}

func TestExpiryJobRetriesCounterConflicts(t *testing.T) {
	env := newExpiryEnv(t, 10)
	env.seedStock(t, "sku-001", 10)
	overdue := env.hold(t, "sku-001", "cart-1", 4, time.Now().UTC().Add(-time.Minute))

	flaky := &flakyTxRunner{inner: env.client, failures: 1}
	job, err := NewExpiryJob(ExpiryJobParams{
		Repo:        env.repo,
		Store:       env.store,
		DB:          flaky,
		Cache:       env.cache,
		Logger:      logger.New(logger.Options{ServiceName: "sweeper-test"}),
		BatchSize:   10,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewExpiryJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected a retry after the conflict, got %d attempts", flaky.calls)
	}
	if got := env.stockRecord(t, "sku-001").ReservedQty; got != 0 {
		t.Fatalf("expected hold released after retry, got reserved %d", got)
	}
	row, err := env.repo.Find(context.Background(), overdue.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if row.Status != enums.ReservationStatusExpired {
		t.Fatalf("expected expired status, got %s", row.Status)
	}
}

func TestExpiryJobGivesUpAfterMaxAttempts(t *testing.T) {
	env := newExpiryEnv(t, 10)
	env.seedStock(t, "sku-001", 10)
	overdue := env.hold(t, "sku-001", "cart-1", 4, time.Now().UTC().Add(-time.Minute))

	flaky := &flakyTxRunner{inner: env.client, failures: 10}
	job, err := NewExpiryJob(ExpiryJobParams{
		Repo:        env.repo,
		Store:       env.store,
		DB:          flaky,
		Cache:       env.cache,
		Logger:      logger.New(logger.Options{ServiceName: "sweeper-test"}),
		BatchSize:   10,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewExpiryJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected the sweep to report the exhausted row")
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.calls)
	}

	// The row stays active for the next cycle.
	row, err := env.repo.Find(context.Background(), overdue.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if row.Status != enums.ReservationStatusActive {
		t.Fatalf("expected active status, got %s", row.Status)
	}
	if got := env.stockRecord(t, "sku-001").ReservedQty; got != 4 {
		t.Fatalf("failed expiration must not change counters, got reserved %d", got)
	}
}

func TestExpiryJobNothingToDo(t *testing.T) {
	env := newExpiryEnv(t, 10)
	if err := env.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
