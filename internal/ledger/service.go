package ledger

import (
	"context"
	"fmt"

	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/pagination"
)

type stockReader interface {
	Find(ctx context.Context, skuID string) (*models.StockRecord, error)
}

// Service exposes read and audit operations over the transaction ledger.
// Writing entries is done by the inventory store inside its mutation
// transactions, not through this service.
type Service interface {
	List(ctx context.Context, skuID string, params pagination.Params) ([]models.LedgerEntry, string, error)
	Replay(ctx context.Context, skuID string) (ReplayResult, error)
	Reconcile(ctx context.Context, skuID string) (ReconcileReport, error)
}

// ReplayResult is the counter state derived purely from ledger entries.
type ReplayResult struct {
	SKUID       string `json:"sku_id"`
	TotalQty    int    `json:"total_qty"`
	ReservedQty int    `json:"reserved_qty"`
	Entries     int    `json:"entries"`
}

// ReconcileReport compares replayed counters against the live stock record.
type ReconcileReport struct {
	SKUID           string `json:"sku_id"`
	Consistent      bool   `json:"consistent"`
	LedgerTotal     int    `json:"ledger_total_qty"`
	LedgerReserved  int    `json:"ledger_reserved_qty"`
	RecordTotal     int    `json:"record_total_qty"`
	RecordReserved  int    `json:"record_reserved_qty"`
	EntriesReplayed int    `json:"entries_replayed"`
}

type service struct {
	repo   Repository
	stocks stockReader
}

// NewService wires a ledger service with the provided repository and stock reader.
func NewService(repo Repository, stocks stockReader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if stocks == nil {
		return nil, fmt.Errorf("stock reader required")
	}
	return &service{repo: repo, stocks: stocks}, nil
}

func (s *service) List(ctx context.Context, skuID string, params pagination.Params) ([]models.LedgerEntry, string, error) {
	if skuID == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "sku id required")
	}
	return s.repo.ListBySKU(ctx, skuID, params)
}

// Replay folds every entry for the SKU from zero counters. The entry kind
// decides which counters the delta applies to.
func (s *service) Replay(ctx context.Context, skuID string) (ReplayResult, error) {
	if skuID == "" {
		return ReplayResult{}, pkgerrors.New(pkgerrors.CodeValidation, "sku id required")
	}

	result := ReplayResult{SKUID: skuID}
	err := s.repo.IterateBySKU(ctx, skuID, func(entry models.LedgerEntry) error {
		switch entry.Kind {
		case enums.LedgerEntryKindReserve, enums.LedgerEntryKindRelease:
			result.ReservedQty += entry.QtyDelta
		case enums.LedgerEntryKindDeduct:
			result.ReservedQty += entry.QtyDelta
			result.TotalQty += entry.QtyDelta
		case enums.LedgerEntryKindAdjust:
			result.TotalQty += entry.QtyDelta
		default:
			return fmt.Errorf("unknown ledger entry kind %q", entry.Kind)
		}
		result.Entries++
		return nil
	})
	if err != nil {
		return ReplayResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replay ledger")
	}
	return result, nil
}

// Reconcile reports whether the ledger reproduces the live counters. It never
// mutates anything: drift is surfaced to operators, not silently corrected.
func (s *service) Reconcile(ctx context.Context, skuID string) (ReconcileReport, error) {
	replayed, err := s.Replay(ctx, skuID)
	if err != nil {
		return ReconcileReport{}, err
	}

	record, err := s.stocks.Find(ctx, skuID)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{
		SKUID:           skuID,
		LedgerTotal:     replayed.TotalQty,
		LedgerReserved:  replayed.ReservedQty,
		RecordTotal:     record.TotalQty,
		RecordReserved:  record.ReservedQty,
		EntriesReplayed: replayed.Entries,
	}
	report.Consistent = report.LedgerTotal == report.RecordTotal &&
		report.LedgerReserved == report.RecordReserved
	return report, nil
}
