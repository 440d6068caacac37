package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/HaoranTong/inventory-engine/pkg/enums"
)

// Reservation is a time-bounded hold against a SKU's available quantity.
// The partial unique index on (sku_id, kind, reference_id) for active rows
// backs the idempotency guarantee of the reservation manager.
type Reservation struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	SKUID       string                  `gorm:"column:sku_id;not null;index"`
	Kind        enums.ReservationKind   `gorm:"column:kind;not null"`
	ReferenceID string                  `gorm:"column:reference_id;not null;index"`
	Qty         int                     `gorm:"column:qty;not null"`
	ExpiresAt   time.Time               `gorm:"column:expires_at;not null;index"`
	Status      enums.ReservationStatus `gorm:"column:status;not null;default:active"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
