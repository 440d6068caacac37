package inventory

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/internal/stockcache"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type snapshotCache interface {
	Get(ctx context.Context, skuID string) (*stockcache.Snapshot, bool, error)
	Put(ctx context.Context, record models.StockRecord) (*stockcache.Snapshot, error)
	Invalidate(ctx context.Context, skuIDs ...string) error
}

// AdjustInput describes an operator-driven change to a SKU's total quantity,
// restocks and write-offs included.
type AdjustInput struct {
	SKUID           string
	TotalDelta      int
	Operator        string
	ReferenceID     string
	ExpectedVersion *int64
}

// Service exposes stock reads and administrative adjustments.
type Service struct {
	store       *Store
	db          txRunner
	cache       snapshotCache
	log         *logger.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewService creates the inventory service.
func NewService(store *Store, db txRunner, cache snapshotCache, log *logger.Logger, maxAttempts int, retryDelay time.Duration) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if db == nil {
		return nil, fmt.Errorf("db client required")
	}
	if cache == nil {
		return nil, fmt.Errorf("stock cache required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Service{
		store:       store,
		db:          db,
		cache:       cache,
		log:         log,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}, nil
}

// GetStock returns the stock snapshot for a SKU, served from cache when warm.
// The cache is never authoritative; misses and cache failures fall through to
// the durable record.
func (s *Service) GetStock(ctx context.Context, skuID string) (*stockcache.Snapshot, error) {
	if skuID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	ctx = s.log.WithSKU(ctx, skuID)

	snapshot, hit, err := s.cache.Get(ctx, skuID)
	if err != nil {
		s.log.Warn(ctx, "stock cache read failed, falling back to database")
	}
	if hit {
		return snapshot, nil
	}

	record, err := s.store.GetOrCreate(ctx, skuID)
	if err != nil {
		return nil, err
	}

	snapshot, err = s.cache.Put(ctx, *record)
	if err != nil {
		s.log.Warn(ctx, "stock cache write failed, serving database view")
		snapshot = &stockcache.Snapshot{
			SKUID:             record.SKUID,
			TotalQty:          record.TotalQty,
			ReservedQty:       record.ReservedQty,
			AvailableQty:      record.AvailableQty(),
			WarningThreshold:  record.WarningThreshold,
			CriticalThreshold: record.CriticalThreshold,
			CachedAt:          time.Now().UTC(),
		}
	}
	return snapshot, nil
}

// Adjust applies an operator adjustment to a SKU's total quantity. When the
// caller pins a version any concurrent change surfaces as a conflict;
// unpinned adjustments retry the lost race a bounded number of times.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (*models.StockRecord, error) {
	if input.SKUID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	if input.TotalDelta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment delta cannot be zero")
	}
	ctx = s.log.WithSKU(ctx, input.SKUID)

	attempts := s.maxAttempts
	if input.ExpectedVersion != nil {
		attempts = 1
	}

	var record *models.StockRecord
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, ctx.Err(), "adjustment cancelled")
			case <-time.After(s.retryDelay):
			}
		}

		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			record, err = s.store.WithTx(tx).Mutate(ctx, MutateInput{
				SKUID:           input.SKUID,
				TotalDelta:      input.TotalDelta,
				Kind:            enums.LedgerEntryKindAdjust,
				ReferenceID:     input.ReferenceID,
				Operator:        input.Operator,
				ExpectedVersion: input.ExpectedVersion,
			})
			return err
		})
		if err == nil {
			break
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, input.SKUID)
	s.log.Info(ctx, "stock adjustment applied")
	return record, nil
}

// SetThresholds updates the warning and critical levels for a SKU, creating
// the record first if the SKU has never been stocked.
func (s *Service) SetThresholds(ctx context.Context, skuID string, warning, critical int) (*models.StockRecord, error) {
	if skuID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	if warning < 0 || critical < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "thresholds cannot be negative")
	}
	if critical > warning {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "critical threshold cannot exceed warning threshold").
			WithDetails(map[string]any{"warning": warning, "critical": critical})
	}
	ctx = s.log.WithSKU(ctx, skuID)

	record, err := s.store.GetOrCreate(ctx, skuID)
	if err != nil {
		return nil, err
	}
	if err := s.store.repo.UpdateThresholds(ctx, skuID, warning, critical); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update thresholds")
	}

	s.invalidate(ctx, skuID)
	record.WarningThreshold = warning
	record.CriticalThreshold = critical
	return record, nil
}

// LowStock lists SKUs at or below their warning threshold.
func (s *Service) LowStock(ctx context.Context) ([]models.StockRecord, error) {
	return s.store.LowStock(ctx)
}

// Invalidate drops cached snapshots after counter mutations commit. Cache
// failures are logged and swallowed; stale entries age out on their TTL.
func (s *Service) Invalidate(ctx context.Context, skuIDs ...string) {
	s.invalidate(ctx, skuIDs...)
}

func (s *Service) invalidate(ctx context.Context, skuIDs ...string) {
	if err := s.cache.Invalidate(ctx, skuIDs...); err != nil {
		s.log.Warn(ctx, "stock cache invalidation failed")
	}
}
