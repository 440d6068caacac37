package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/HaoranTong/inventory-engine/api/responses"
	"github.com/HaoranTong/inventory-engine/api/validators"
	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/internal/ledger"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
	"github.com/HaoranTong/inventory-engine/pkg/pagination"
)

const maxSKULen = 64

type AdjustStockBody struct {
	TotalDelta      int    `json:"total_delta" validate:"required"`
	Operator        string `json:"operator" validate:"required,min=1,max=64"`
	ReferenceID     string `json:"reference_id,omitempty" validate:"max=128"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type ThresholdsBody struct {
	WarningThreshold  int `json:"warning_threshold" validate:"min=0"`
	CriticalThreshold int `json:"critical_threshold" validate:"min=0"`
}

type stockView struct {
	SKUID             string    `json:"sku_id"`
	TotalQty          int       `json:"total_qty"`
	ReservedQty       int       `json:"reserved_qty"`
	AvailableQty      int       `json:"available_qty"`
	WarningThreshold  int       `json:"warning_threshold"`
	CriticalThreshold int       `json:"critical_threshold"`
	AtWarning         bool      `json:"at_warning"`
	AtCritical        bool      `json:"at_critical"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newStockView(record models.StockRecord) stockView {
	return stockView{
		SKUID:             record.SKUID,
		TotalQty:          record.TotalQty,
		ReservedQty:       record.ReservedQty,
		AvailableQty:      record.AvailableQty(),
		WarningThreshold:  record.WarningThreshold,
		CriticalThreshold: record.CriticalThreshold,
		AtWarning:         record.AtWarning(),
		AtCritical:        record.AtCritical(),
		Version:           record.Version,
		UpdatedAt:         record.UpdatedAt,
	}
}

// StockGet serves the cached snapshot for one SKU.
func StockGet(svc *inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skuID, err := skuFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.GetStock(r.Context(), skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// StockAdjust applies an operator adjustment to a SKU's total quantity.
func StockAdjust(svc *inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skuID, err := skuFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body AdjustStockBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Adjust(r.Context(), inventory.AdjustInput{
			SKUID:           skuID,
			TotalDelta:      body.TotalDelta,
			Operator:        validators.SanitizeString(body.Operator, 64),
			ReferenceID:     validators.SanitizeString(body.ReferenceID, 128),
			ExpectedVersion: body.ExpectedVersion,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStockView(*record))
	}
}

// StockSetThresholds updates the warning/critical levels for one SKU.
func StockSetThresholds(svc *inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skuID, err := skuFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body ThresholdsBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.SetThresholds(r.Context(), skuID, body.WarningThreshold, body.CriticalThreshold)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStockView(*record))
	}
}

// StockLow lists records at or below their warning threshold.
func StockLow(svc *inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := svc.LowStock(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]stockView, 0, len(records))
		for _, record := range records {
			views = append(views, newStockView(record))
		}
		responses.WriteSuccess(w, views)
	}
}

// StockLedger lists a SKU's ledger entries, oldest first, cursor-paginated.
func StockLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skuID, err := skuFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, next, err := svc.List(r.Context(), skuID, pagination.Params{
			Limit:  limit,
			Cursor: validators.QueryString(r, "cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"entries":     entries,
			"next_cursor": next,
		})
	}
}

// StockReconcile replays the SKU's ledger and compares it to live counters.
func StockReconcile(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skuID, err := skuFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.Reconcile(r.Context(), skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func skuFromPath(r *http.Request) (string, error) {
	skuID := validators.SanitizeString(chi.URLParam(r, "skuID"), maxSKULen)
	if skuID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	return skuID, nil
}
