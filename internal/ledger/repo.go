package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/pagination"
)

// Repository manages persistence for ledger entries. Entries are append-only:
// there is deliberately no update or delete surface here.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	ListBySKU(ctx context.Context, skuID string, params pagination.Params) ([]models.LedgerEntry, string, error)
	IterateBySKU(ctx context.Context, skuID string, fn func(models.LedgerEntry) error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListBySKU returns one page of entries ordered oldest-first plus the cursor
// for the next page, empty when the listing is exhausted.
func (r *repository) ListBySKU(ctx context.Context, skuID string, params pagination.Params) ([]models.LedgerEntry, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pagination cursor")
	}

	query := r.db.WithContext(ctx).
		Where("sku_id = ?", skuID).
		Order("created_at ASC, id ASC").
		Limit(pagination.LimitWithBuffer(params.Limit))
	if cursor != nil {
		query = query.Where(
			"(created_at > ?) OR (created_at = ? AND id > ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var entries []models.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, "", err
	}

	limit := pagination.NormalizeLimit(params.Limit)
	next := ""
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[len(entries)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return entries, next, nil
}

// IterateBySKU streams every entry for a SKU in creation order. Replay and
// reconciliation depend on this ordering.
func (r *repository) IterateBySKU(ctx context.Context, skuID string, fn func(models.LedgerEntry) error) error {
	const batchSize = 500

	var batch []models.LedgerEntry
	return r.db.WithContext(ctx).
		Where("sku_id = ?", skuID).
		Order("created_at ASC, id ASC").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			for _, entry := range batch {
				if err := fn(entry); err != nil {
					return err
				}
			}
			return nil
		}).Error
}
