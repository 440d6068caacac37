package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/HaoranTong/inventory-engine/pkg/enums"
)

// OperatorSystem identifies ledger entries written by the engine itself
// rather than by an admin adjustment.
const OperatorSystem = "system"

// LedgerEntry records one immutable quantity change for a SKU. Entries are
// append-only; replaying them in creation order must reproduce the current
// stock counters exactly.
type LedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SKUID          string                `gorm:"column:sku_id;not null;index:idx_ledger_sku_created"`
	Kind           enums.LedgerEntryKind `gorm:"column:kind;not null"`
	QtyDelta       int                   `gorm:"column:qty_delta;not null"`
	TotalBefore    int                   `gorm:"column:total_before;not null"`
	TotalAfter     int                   `gorm:"column:total_after;not null"`
	ReservedBefore int                   `gorm:"column:reserved_before;not null"`
	ReservedAfter  int                   `gorm:"column:reserved_after;not null"`
	ReferenceID    string                `gorm:"column:reference_id"`
	Operator       string                `gorm:"column:operator;not null;default:system"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_ledger_sku_created"`
}
