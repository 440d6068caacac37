package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/pkg/db/models"
)

func setupRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:inventory_repo_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.StockRecord{}))
	return conn
}

func seedRecord(t *testing.T, repo Repository, record models.StockRecord) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &record))
}

func TestRepositoryUpdateCountersVersionGate(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	seedRecord(t, repo, models.StockRecord{SKUID: "sku-1", TotalQty: 10})

	ok, err := repo.UpdateCounters(ctx, "sku-1", 15, 0, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// The stale version no longer matches; nothing is written.
	ok, err = repo.UpdateCounters(ctx, "sku-1", 99, 99, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	record, err := repo.Find(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 15, record.TotalQty)
	assert.Equal(t, 0, record.ReservedQty)
	assert.Equal(t, int64(1), record.Version)
}

func TestRepositoryUpdateThresholdsMissingRow(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)

	err := repo.UpdateThresholds(context.Background(), "sku-missing", 5, 2)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListLowStock(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	seedRecord(t, repo, models.StockRecord{SKUID: "sku-b", TotalQty: 3, WarningThreshold: 5})
	seedRecord(t, repo, models.StockRecord{SKUID: "sku-a", TotalQty: 2, WarningThreshold: 5})
	// Plenty of stock, must not appear.
	seedRecord(t, repo, models.StockRecord{SKUID: "sku-c", TotalQty: 100, WarningThreshold: 5})
	// No threshold configured, must not appear even at zero stock.
	seedRecord(t, repo, models.StockRecord{SKUID: "sku-d", TotalQty: 0})

	records, err := repo.ListLowStock(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "sku-a", records[0].SKUID)
	assert.Equal(t, "sku-b", records[1].SKUID)
}

func TestRepositoryListSKUIDs(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	for _, skuID := range []string{"sku-3", "sku-1", "sku-2"} {
		seedRecord(t, repo, models.StockRecord{SKUID: skuID})
	}

	all, err := repo.ListSKUIDs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sku-1", "sku-2", "sku-3"}, all)

	capped, err := repo.ListSKUIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"sku-1", "sku-2"}, capped)
}
