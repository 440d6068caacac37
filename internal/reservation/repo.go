package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
)

// Repository manages reservation persistence. Status transitions go through
// CASStatus so terminal states can never be overwritten.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservation *models.Reservation) error
	Find(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	// FindByReference returns every reservation row created for a
	// (kind, reference) pair, active or terminal, ordered by SKU.
	FindByReference(ctx context.Context, kind enums.ReservationKind, referenceID string) ([]models.Reservation, error)
	// FindActiveByReference narrows FindByReference to active rows.
	FindActiveByReference(ctx context.Context, kind enums.ReservationKind, referenceID string) ([]models.Reservation, error)
	// FindExpired returns active reservations whose deadline has passed,
	// oldest deadline first, capped at limit.
	FindExpired(ctx context.Context, asOf time.Time, limit int) ([]models.Reservation, error)
	// CASStatus transitions a reservation from one status to another and
	// reports whether this caller won the transition.
	CASStatus(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error)
	UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a reservation repository backed by Gorm.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservation *models.Reservation) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	now := time.Now().UTC()
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now
	if reservation.Status == "" {
		reservation.Status = enums.ReservationStatusActive
	}
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindByReference(ctx context.Context, kind enums.ReservationKind, referenceID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND reference_id = ?", kind, referenceID).
		Order("sku_id ASC, created_at ASC").
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) FindActiveByReference(ctx context.Context, kind enums.ReservationKind, referenceID string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND reference_id = ? AND status = ?", kind, referenceID, enums.ReservationStatusActive).
		Order("sku_id ASC").
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) FindExpired(ctx context.Context, asOf time.Time, limit int) ([]models.Reservation, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.ReservationStatusActive, asOf).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var reservations []models.Reservation
	if err := query.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) CASStatus(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, enums.ReservationStatusActive).
		Updates(map[string]any{
			"expires_at": expiresAt,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
