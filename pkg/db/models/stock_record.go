package models

import "time"

// StockRecord is the authoritative per-SKU counter row. All mutation flows
// through the inventory store; available quantity is always derived from the
// two persisted counters and never stored on its own.
type StockRecord struct {
	SKUID             string    `gorm:"column:sku_id;primaryKey"`
	TotalQty          int       `gorm:"column:total_qty;not null;default:0"`
	ReservedQty       int       `gorm:"column:reserved_qty;not null;default:0"`
	WarningThreshold  int       `gorm:"column:warning_threshold;not null;default:0"`
	CriticalThreshold int       `gorm:"column:critical_threshold;not null;default:0"`
	Version           int64     `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableQty returns the units not held by active reservations.
func (s StockRecord) AvailableQty() int {
	return s.TotalQty - s.ReservedQty
}

// AtWarning reports whether available stock is at or below the warning threshold.
func (s StockRecord) AtWarning() bool {
	return s.WarningThreshold > 0 && s.AvailableQty() <= s.WarningThreshold
}

// AtCritical reports whether available stock is at or below the critical threshold.
func (s StockRecord) AtCritical() bool {
	return s.CriticalThreshold > 0 && s.AvailableQty() <= s.CriticalThreshold
}
