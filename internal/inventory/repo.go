package inventory

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/pkg/db/models"
)

// Repository handles stock record persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, skuID string) (*models.StockRecord, error)
	Create(ctx context.Context, record *models.StockRecord) error
	// UpdateCounters applies new counter values guarded by the expected
	// version. It reports false when the row was changed by a concurrent
	// writer and nothing was updated.
	UpdateCounters(ctx context.Context, skuID string, totalQty, reservedQty int, expectedVersion int64) (bool, error)
	UpdateThresholds(ctx context.Context, skuID string, warning, critical int) error
	ListLowStock(ctx context.Context) ([]models.StockRecord, error)
	ListSKUIDs(ctx context.Context, limit int) ([]string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates an inventory repository backed by Gorm.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Find(ctx context.Context, skuID string) (*models.StockRecord, error) {
	var record models.StockRecord
	if err := r.db.WithContext(ctx).
		Where("sku_id = ?", skuID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) Create(ctx context.Context, record *models.StockRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) UpdateCounters(ctx context.Context, skuID string, totalQty, reservedQty int, expectedVersion int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("sku_id = ? AND version = ?", skuID, expectedVersion).
		Updates(map[string]any{
			"total_qty":    totalQty,
			"reserved_qty": reservedQty,
			"version":      expectedVersion + 1,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) UpdateThresholds(ctx context.Context, skuID string, warning, critical int) error {
	result := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("sku_id = ?", skuID).
		Updates(map[string]any{
			"warning_threshold":  warning,
			"critical_threshold": critical,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListLowStock(ctx context.Context) ([]models.StockRecord, error) {
	var records []models.StockRecord
	if err := r.db.WithContext(ctx).
		Where("warning_threshold > 0 AND (total_qty - reserved_qty) <= warning_threshold").
		Order("sku_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListSKUIDs(ctx context.Context, limit int) ([]string, error) {
	query := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Order("sku_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var skuIDs []string
	if err := query.Pluck("sku_id", &skuIDs).Error; err != nil {
		return nil, err
	}
	return skuIDs, nil
}
