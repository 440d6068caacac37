package deduction

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/internal/reservation"
	"github.com/HaoranTong/inventory-engine/pkg/config"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, skuIDs ...string) error
}

// errLostTransition aborts the deduction transaction when another writer
// moved a reservation out of active first. The caller re-reads and
// re-evaluates instead of guessing who won.
var errLostTransition = stdErrors.New("reservation status changed concurrently")

// Service converts active holds into permanent stock deductions at
// fulfillment time.
type Service struct {
	repo  reservation.Repository
	store *inventory.Store
	db    txRunner
	cache cacheInvalidator
	log   *logger.Logger
	cfg   config.ReservationConfig
}

// NewService creates the deduction service.
func NewService(repo reservation.Repository, store *inventory.Store, dbClient txRunner, cache cacheInvalidator, log *logger.Logger, cfg config.ReservationConfig) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if store == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if cache == nil {
		return nil, fmt.Errorf("stock cache required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Service{repo: repo, store: store, db: dbClient, cache: cache, log: log, cfg: cfg}, nil
}

// Deduct consumes every hold for a (kind, reference) and permanently removes
// the held units from stock. The call is idempotent: a reference whose holds
// are already consumed succeeds without touching counters. A reference whose
// holds lapsed before fulfillment fails so the caller can re-reserve.
//
// The status transition is a compare-and-swap against the active state, so a
// deduction racing the expiration sweeper resolves to exactly one winner per
// reservation; the loser re-reads and re-evaluates.
func (s *Service) Deduct(ctx context.Context, kind enums.ReservationKind, referenceID string) ([]models.Reservation, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation kind")
	}
	if referenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	ctx = s.log.WithFields(ctx, map[string]any{
		"reference_id": referenceID,
		"kind":         kind.String(),
	})

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, ctx.Err(), "deduction cancelled")
			case <-time.After(s.cfg.RetryDelay):
			}
		}

		rows, err := s.repo.FindByReference(ctx, kind, referenceID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find reservations")
		}
		if len(rows) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeReservationNotFound, "no reservations for reference").
				WithDetails(map[string]any{"reference_id": referenceID, "kind": kind.String()})
		}

		active, consumed, lapsed := partition(rows)
		if len(lapsed) > 0 {
			// Any lapsed hold fails the whole reference. Consuming the
			// survivors would fulfill part of an order whose remainder
			// was already returned to stock.
			return nil, pkgerrors.New(pkgerrors.CodeReservationExpired, "holds lapsed before fulfillment").
				WithDetails(map[string]any{
					"reference_id": referenceID,
					"lapsed":       len(lapsed),
					"consumed":     len(consumed),
				})
		}
		if len(active) == 0 {
			// Every hold already consumed: a replayed fulfillment.
			s.log.Info(ctx, "deduction replayed for consumed reference")
			return consumed, nil
		}

		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			txRepo := s.repo.WithTx(tx)
			mutations := make([]inventory.MutateInput, 0, len(active))
			for _, hold := range active {
				won, err := txRepo.CASStatus(ctx, hold.ID, enums.ReservationStatusActive, enums.ReservationStatusConsumed)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "consume reservation")
				}
				if !won {
					return errLostTransition
				}
				mutations = append(mutations, inventory.MutateInput{
					SKUID:        hold.SKUID,
					ReserveDelta: -hold.Qty,
					TotalDelta:   -hold.Qty,
					Kind:         enums.LedgerEntryKindDeduct,
					ReferenceID:  referenceID,
				})
			}
			_, err := s.store.WithTx(tx).BatchMutate(ctx, mutations)
			return err
		})
		if err == nil {
			s.invalidate(ctx, active)
			s.log.Info(ctx, "deduction applied")
			for i := range active {
				active[i].Status = enums.ReservationStatusConsumed
			}
			return append(consumed, active...), nil
		}
		if stdErrors.Is(err, errLostTransition) || pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
			continue
		}
		return nil, err
	}

	return nil, pkgerrors.New(pkgerrors.CodeConcurrentModification, "deduction lost repeated concurrency races").
		WithDetails(map[string]any{"reference_id": referenceID})
}

func partition(rows []models.Reservation) (active, consumed, lapsed []models.Reservation) {
	for _, row := range rows {
		switch row.Status {
		case enums.ReservationStatusActive:
			active = append(active, row)
		case enums.ReservationStatusConsumed:
			consumed = append(consumed, row)
		default:
			lapsed = append(lapsed, row)
		}
	}
	return active, consumed, lapsed
}

func (s *Service) invalidate(ctx context.Context, holds []models.Reservation) {
	skuIDs := make([]string, 0, len(holds))
	for _, hold := range holds {
		skuIDs = append(skuIDs, hold.SKUID)
	}
	if err := s.cache.Invalidate(ctx, skuIDs...); err != nil {
		s.log.Warn(ctx, "stock cache invalidation failed")
	}
}
