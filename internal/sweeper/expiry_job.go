package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/internal/reservation"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
	"github.com/HaoranTong/inventory-engine/pkg/metrics"
)

const expiryJobName = "reservation_expiry"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, skuIDs ...string) error
}

// ExpiryJob finds overdue active reservations, marks them expired, and
// returns their units to available stock. Each reservation is handled in its
// own transaction so one bad row cannot wedge the whole sweep.
type ExpiryJob struct {
	repo        reservation.Repository
	store       *inventory.Store
	db          txRunner
	cache       cacheInvalidator
	logg        *logger.Logger
	metrics     *metrics.SweepMetrics
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

// ExpiryJobParams configure the expiry job.
type ExpiryJobParams struct {
	Repo        reservation.Repository
	Store       *inventory.Store
	DB          txRunner
	Cache       cacheInvalidator
	Logger      *logger.Logger
	Metrics     *metrics.SweepMetrics
	BatchSize   int
	MaxAttempts int
}

// NewExpiryJob builds the reservation expiry job.
func NewExpiryJob(params ExpiryJobParams) (*ExpiryJob, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("stock cache required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &ExpiryJob{
		repo:        params.Repo,
		store:       params.Store,
		db:          params.DB,
		cache:       params.Cache,
		logg:        params.Logger,
		metrics:     params.Metrics,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

// Name implements Job.
func (j *ExpiryJob) Name() string { return expiryJobName }

// Run sweeps overdue reservations batch by batch until none remain. Failures
// are logged per reservation and the sweep moves on; failed rows stay active
// and are retried on the next cycle.
func (j *ExpiryJob) Run(ctx context.Context) error {
	var errs error
	for {
		asOf := j.now().UTC()
		overdue, err := j.repo.FindExpired(ctx, asOf, j.batchSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("find expired reservations: %w", err))
		}
		if len(overdue) == 0 {
			return errs
		}

		expired, skipped := 0, 0
		touched := make([]string, 0, len(overdue))
		for _, hold := range overdue {
			won, err := j.expire(ctx, hold)
			if err != nil {
				itemCtx := j.logg.WithFields(ctx, map[string]any{
					"reservation_id": hold.ID.String(),
					"sku_id":         hold.SKUID,
				})
				j.logg.Error(itemCtx, "failed to expire reservation", err)
				errs = multierr.Append(errs, err)
				continue
			}
			if !won {
				// A deduction or release got there first.
				skipped++
				continue
			}
			expired++
			touched = append(touched, hold.SKUID)
		}

		j.metrics.IncItems(expiryJobName, "expired", expired)
		j.metrics.IncItems(expiryJobName, "skipped", skipped)
		if len(touched) > 0 {
			if err := j.cache.Invalidate(ctx, touched...); err != nil {
				j.logg.Warn(ctx, "stock cache invalidation failed")
			}
		}

		// No progress means every remaining row failed; let the next cycle
		// retry instead of spinning.
		if expired == 0 && skipped == 0 {
			return errs
		}
		if len(overdue) < j.batchSize {
			return errs
		}
	}
}

// expire transitions one hold to expired and returns its units. The CAS and
// the counter release share a transaction: losing the CAS to a concurrent
// deduction aborts cleanly without touching counters. A counter version
// conflict rolls the transaction back with the row still active, so it is
// retried in place rather than deferred a whole sweep interval.
func (j *ExpiryJob) expire(ctx context.Context, hold models.Reservation) (bool, error) {
	var (
		won bool
		err error
	)
	for attempt := 0; attempt < j.maxAttempts; attempt++ {
		won, err = j.expireOnce(ctx, hold)
		if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
			break
		}
	}
	return won, err
}

func (j *ExpiryJob) expireOnce(ctx context.Context, hold models.Reservation) (bool, error) {
	won := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.repo.WithTx(tx).CASStatus(ctx, hold.ID, enums.ReservationStatusActive, enums.ReservationStatusExpired)
		if err != nil {
			return fmt.Errorf("expire reservation %s: %w", hold.ID, err)
		}
		if !ok {
			return nil
		}
		won = true
		if _, err := j.store.WithTx(tx).Mutate(ctx, inventory.MutateInput{
			SKUID:        hold.SKUID,
			ReserveDelta: -hold.Qty,
			Kind:         enums.LedgerEntryKindRelease,
			ReferenceID:  hold.ReferenceID,
		}); err != nil {
			return fmt.Errorf("return units for reservation %s: %w", hold.ID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}
