package reservation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/pkg/config"
	"github.com/HaoranTong/inventory-engine/pkg/db"
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

// ReserveInput describes a single-SKU hold request.
type ReserveInput struct {
	SKUID       string
	Kind        enums.ReservationKind
	ReferenceID string
	Qty         int
	// TTL overrides the configured hold lifetime when positive. It is
	// clamped to the configured maximum.
	TTL time.Duration
}

// BatchItem is one line of a multi-SKU hold request.
type BatchItem struct {
	SKUID string
	Qty   int
}

// Service is the reservation manager: it places, extends, and releases
// time-bounded holds against available stock.
type Service struct {
	repo  Repository
	store *inventory.Store
	db    txRunner
	cache cacheInvalidator
	log   *logger.Logger
	cfg   config.ReservationConfig
}

// NewService creates the reservation service.
func NewService(repo Repository, store *inventory.Store, dbClient txRunner, cache cacheInvalidator, log *logger.Logger, cfg config.ReservationConfig) (*Service, error) {
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

// Reserve places a hold on a single SKU. The call is idempotent per
// (sku, kind, reference): an existing active hold is returned as-is and no
// additional stock is reserved.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (*models.Reservation, error) {
	if err := validateReserveInput(input); err != nil {
		return nil, err
	}
	ctx = s.log.WithFields(ctx, map[string]any{
		"sku_id":       input.SKUID,
		"reference_id": input.ReferenceID,
		"kind":         input.Kind.String(),
	})

	if existing, err := s.findActiveHold(ctx, input.Kind, input.ReferenceID, input.SKUID); err != nil {
		return nil, err
	} else if existing != nil {
		s.log.Info(ctx, "reservation replayed for existing active hold")
		return existing, nil
	}

	expiresAt := time.Now().UTC().Add(s.ttlFor(input.Kind, input.TTL))
	var reservation *models.Reservation
	err := s.withRetries(ctx, func() error {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			if _, err := s.store.WithTx(tx).Mutate(ctx, inventory.MutateInput{
				SKUID:        input.SKUID,
				ReserveDelta: input.Qty,
				Kind:         enums.LedgerEntryKindReserve,
				ReferenceID:  input.ReferenceID,
			}); err != nil {
				return err
			}
			reservation = &models.Reservation{
				SKUID:       input.SKUID,
				Kind:        input.Kind,
				ReferenceID: input.ReferenceID,
				Qty:         input.Qty,
				ExpiresAt:   expiresAt,
				Status:      enums.ReservationStatusActive,
			}
			return s.repo.WithTx(tx).Create(ctx, reservation)
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// A concurrent request for the same reference won the insert;
			// its hold is the one both callers share.
			existing, findErr := s.findActiveHold(ctx, input.Kind, input.ReferenceID, input.SKUID)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.invalidate(ctx, input.SKUID)
	s.log.Info(ctx, "reservation placed")
	return reservation, nil
}

// ReserveBatch places holds on several SKUs atomically: either every line is
// held or none are. Replays for a (kind, reference) with active holds return
// the existing holds untouched.
func (s *Service) ReserveBatch(ctx context.Context, kind enums.ReservationKind, referenceID string, items []BatchItem, ttl time.Duration) ([]models.Reservation, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation kind")
	}
	if referenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.SKUID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"sku_id": item.SKUID})
		}
		if seen[item.SKUID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate sku in batch").
				WithDetails(map[string]any{"sku_id": item.SKUID})
		}
		seen[item.SKUID] = true
	}
	ctx = s.log.WithFields(ctx, map[string]any{
		"reference_id": referenceID,
		"kind":         kind.String(),
	})

	existing, err := s.repo.FindActiveByReference(ctx, kind, referenceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find active reservations")
	}
	if len(existing) > 0 {
		s.log.Info(ctx, "batch reservation replayed for existing active holds")
		return existing, nil
	}

	expiresAt := time.Now().UTC().Add(s.ttlFor(kind, ttl))
	var reservations []models.Reservation
	err = s.withRetries(ctx, func() error {
		reservations = reservations[:0]
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			mutations := make([]inventory.MutateInput, 0, len(items))
			for _, item := range items {
				mutations = append(mutations, inventory.MutateInput{
					SKUID:        item.SKUID,
					ReserveDelta: item.Qty,
					Kind:         enums.LedgerEntryKindReserve,
					ReferenceID:  referenceID,
				})
			}
			if _, err := s.store.WithTx(tx).BatchMutate(ctx, mutations); err != nil {
				return err
			}

			txRepo := s.repo.WithTx(tx)
			for _, item := range items {
				reservation := models.Reservation{
					SKUID:       item.SKUID,
					Kind:        kind,
					ReferenceID: referenceID,
					Qty:         item.Qty,
					ExpiresAt:   expiresAt,
					Status:      enums.ReservationStatusActive,
				}
				if err := txRepo.Create(ctx, &reservation); err != nil {
					return err
				}
				reservations = append(reservations, reservation)
			}
			return nil
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			existing, findErr := s.repo.FindActiveByReference(ctx, kind, referenceID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "find active reservations")
			}
			if len(existing) > 0 {
				return existing, nil
			}
		}
		return nil, err
	}

	s.invalidate(ctx, skuIDsOf(items)...)
	s.log.Info(ctx, "batch reservation placed")
	return reservations, nil
}

// Extend pushes an active reservation's deadline out. The new deadline is
// clamped so no hold outlives the configured maximum past its creation.
func (s *Service) Extend(ctx context.Context, id uuid.UUID, ttl time.Duration) (*models.Reservation, error) {
	if ttl <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "extension duration must be positive")
	}

	reservation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservation.Status != enums.ReservationStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeReservationNotActive, "only active reservations can be extended").
			WithDetails(map[string]any{"id": id.String(), "status": reservation.Status.String()})
	}

	expiresAt := time.Now().UTC().Add(ttl)
	if s.cfg.MaxTTL > 0 {
		if ceiling := reservation.CreatedAt.Add(s.cfg.MaxTTL); expiresAt.After(ceiling) {
			expiresAt = ceiling
		}
	}

	if err := s.repo.UpdateExpiry(ctx, id, expiresAt); err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			// The sweeper or a deduction got to it between the read and the
			// guarded update.
			return nil, pkgerrors.New(pkgerrors.CodeReservationNotActive, "reservation is no longer active").
				WithDetails(map[string]any{"id": id.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update reservation expiry")
	}

	reservation.ExpiresAt = expiresAt
	return reservation, nil
}

// Release voids every active hold for a (kind, reference) and returns the
// reserved units to available stock. Releasing a reference with no active
// holds succeeds as a no-op.
func (s *Service) Release(ctx context.Context, kind enums.ReservationKind, referenceID string) error {
	if !kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation kind")
	}
	if referenceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	ctx = s.log.WithFields(ctx, map[string]any{
		"reference_id": referenceID,
		"kind":         kind.String(),
	})

	active, err := s.repo.FindActiveByReference(ctx, kind, referenceID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find active reservations")
	}
	if len(active) == 0 {
		return nil
	}

	var released []string
	err = s.withRetries(ctx, func() error {
		released = released[:0]
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			txRepo := s.repo.WithTx(tx)
			txStore := s.store.WithTx(tx)
			for _, reservation := range active {
				won, err := txRepo.CASStatus(ctx, reservation.ID, enums.ReservationStatusActive, enums.ReservationStatusReleased)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release reservation")
				}
				if !won {
					// Already terminal; its units were handled by whoever
					// won the transition.
					continue
				}
				if _, err := txStore.Mutate(ctx, inventory.MutateInput{
					SKUID:        reservation.SKUID,
					ReserveDelta: -reservation.Qty,
					Kind:         enums.LedgerEntryKindRelease,
					ReferenceID:  referenceID,
				}); err != nil {
					return err
				}
				released = append(released, reservation.SKUID)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if len(released) > 0 {
		s.invalidate(ctx, released...)
		s.log.Info(ctx, "reservations released")
	}
	return nil
}

// Get loads a reservation by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	reservation, err := s.repo.Find(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeReservationNotFound, "reservation not found").
				WithDetails(map[string]any{"id": id.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find reservation")
	}
	return reservation, nil
}

// ListByReference returns every reservation for a (kind, reference) pair,
// terminal rows included.
func (s *Service) ListByReference(ctx context.Context, kind enums.ReservationKind, referenceID string) ([]models.Reservation, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation kind")
	}
	if referenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	reservations, err := s.repo.FindByReference(ctx, kind, referenceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find reservations")
	}
	return reservations, nil
}

func (s *Service) findActiveHold(ctx context.Context, kind enums.ReservationKind, referenceID, skuID string) (*models.Reservation, error) {
	active, err := s.repo.FindActiveByReference(ctx, kind, referenceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find active reservations")
	}
	for i := range active {
		if active[i].SKUID == skuID {
			return &active[i], nil
		}
	}
	return nil, nil
}

// withRetries reruns fn while it loses optimistic concurrency races, up to
// the configured attempt budget.
func (s *Service) withRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return pkgerrors.Wrap(pkgerrors.CodeInternal, ctx.Err(), "operation cancelled")
			case <-time.After(s.cfg.RetryDelay):
			}
		}
		err = fn()
		if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification) {
			return err
		}
	}
	return err
}

func (s *Service) ttlFor(kind enums.ReservationKind, requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = s.cfg.TTLFor(kind.String())
	}
	if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}
	return ttl
}

func (s *Service) invalidate(ctx context.Context, skuIDs ...string) {
	if err := s.cache.Invalidate(ctx, skuIDs...); err != nil {
		s.log.Warn(ctx, "stock cache invalidation failed")
	}
}

func skuIDsOf(items []BatchItem) []string {
	skuIDs := make([]string, 0, len(items))
	for _, item := range items {
		skuIDs = append(skuIDs, item.SKUID)
	}
	return skuIDs
}

func validateReserveInput(input ReserveInput) error {
	if input.SKUID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation kind")
	}
	if input.ReferenceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	if input.Qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
