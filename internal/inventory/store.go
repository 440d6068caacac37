package inventory

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/internal/ledger"
	"github.com/HaoranTong/inventory-engine/pkg/db"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
)

// MutateInput describes one counter mutation for a SKU. Every mutation is
// journaled: the ledger entry and the counter update land in the same
// transaction or not at all.
type MutateInput struct {
	SKUID        string
	ReserveDelta int
	TotalDelta   int
	Kind         enums.LedgerEntryKind
	ReferenceID  string
	Operator     string
	// ExpectedVersion pins the mutation to a specific record version. When
	// nil the version read inside the mutation is used, which still rejects
	// writers that lose the race on the guarded update.
	ExpectedVersion *int64
}

// Store owns stock record mutations. All counter changes funnel through
// Mutate so the version guard and ledger write cannot be bypassed.
type Store struct {
	repo       Repository
	ledgerRepo ledger.Repository
}

// NewStore creates the inventory store.
func NewStore(repo Repository, ledgerRepo ledger.Repository) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &Store{repo: repo, ledgerRepo: ledgerRepo}, nil
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{
		repo:       s.repo.WithTx(tx),
		ledgerRepo: s.ledgerRepo.WithTx(tx),
	}
}

// Find loads the stock record for a SKU.
func (s *Store) Find(ctx context.Context, skuID string) (*models.StockRecord, error) {
	if skuID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	record, err := s.repo.Find(ctx, skuID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found").
				WithDetails(map[string]any{"sku_id": skuID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find stock record")
	}
	return record, nil
}

// GetOrCreate loads the stock record for a SKU, lazily creating a zeroed
// record the first time the SKU is seen.
func (s *Store) GetOrCreate(ctx context.Context, skuID string) (*models.StockRecord, error) {
	if skuID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}

	record, err := s.repo.Find(ctx, skuID)
	if err == nil {
		return record, nil
	}
	if !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find stock record")
	}

	fresh := &models.StockRecord{SKUID: skuID}
	if err := s.repo.Create(ctx, fresh); err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the creation race; the winner's row is authoritative.
			record, err = s.repo.Find(ctx, skuID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find stock record after create race")
			}
			return record, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create stock record")
	}
	return fresh, nil
}

// Mutate applies one counter mutation: it validates the resulting counters,
// writes the ledger entry, then updates the record guarded by its version.
// A version mismatch surfaces as CONCURRENT_MODIFICATION and rolls the
// enclosing transaction back, taking the ledger entry with it.
func (s *Store) Mutate(ctx context.Context, input MutateInput) (*models.StockRecord, error) {
	if err := validateMutateInput(input); err != nil {
		return nil, err
	}

	record, err := s.GetOrCreate(ctx, input.SKUID)
	if err != nil {
		return nil, err
	}
	if input.ExpectedVersion != nil && *input.ExpectedVersion != record.Version {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrentModification, "stock record version mismatch").
			WithDetails(map[string]any{
				"sku_id":           input.SKUID,
				"expected_version": *input.ExpectedVersion,
				"current_version":  record.Version,
			})
	}

	newTotal := record.TotalQty + input.TotalDelta
	newReserved := record.ReservedQty + input.ReserveDelta
	if err := checkCounters(record, input, newTotal, newReserved); err != nil {
		return nil, err
	}

	operator := input.Operator
	if operator == "" {
		operator = models.OperatorSystem
	}
	entry := &models.LedgerEntry{
		SKUID:          input.SKUID,
		Kind:           input.Kind,
		QtyDelta:       ledgerDelta(input),
		TotalBefore:    record.TotalQty,
		TotalAfter:     newTotal,
		ReservedBefore: record.ReservedQty,
		ReservedAfter:  newReserved,
		ReferenceID:    input.ReferenceID,
		Operator:       operator,
	}
	if err := s.ledgerRepo.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write ledger entry")
	}

	ok, err := s.repo.UpdateCounters(ctx, input.SKUID, newTotal, newReserved, record.Version)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update stock counters")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrentModification, "stock record changed concurrently").
			WithDetails(map[string]any{"sku_id": input.SKUID})
	}

	updated := *record
	updated.TotalQty = newTotal
	updated.ReservedQty = newReserved
	updated.Version = record.Version + 1
	return &updated, nil
}

// BatchMutate applies mutations across SKUs inside the caller's transaction.
// Inputs are processed in ascending SKU order so concurrent batches touching
// overlapping SKUs cannot deadlock each other. The first failure aborts the
// batch; the enclosing transaction rollback undoes earlier mutations.
func (s *Store) BatchMutate(ctx context.Context, inputs []MutateInput) ([]models.StockRecord, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one mutation is required")
	}

	ordered := make([]MutateInput, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SKUID < ordered[j].SKUID
	})

	records := make([]models.StockRecord, 0, len(ordered))
	for _, input := range ordered {
		record, err := s.Mutate(ctx, input)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// LowStock lists records at or below their warning threshold.
func (s *Store) LowStock(ctx context.Context) ([]models.StockRecord, error) {
	records, err := s.repo.ListLowStock(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list low stock records")
	}
	return records, nil
}

func validateMutateInput(input MutateInput) error {
	if input.SKUID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger entry kind").
			WithDetails(map[string]any{"kind": string(input.Kind)})
	}
	if input.ReserveDelta == 0 && input.TotalDelta == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "mutation must change at least one counter")
	}

	switch input.Kind {
	case enums.LedgerEntryKindReserve:
		if input.TotalDelta != 0 || input.ReserveDelta <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reserve mutation must only increase reserved quantity")
		}
	case enums.LedgerEntryKindRelease:
		if input.TotalDelta != 0 || input.ReserveDelta >= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "release mutation must only decrease reserved quantity")
		}
	case enums.LedgerEntryKindDeduct:
		if input.TotalDelta >= 0 || input.TotalDelta != input.ReserveDelta {
			return pkgerrors.New(pkgerrors.CodeValidation, "deduct mutation must decrease both counters equally")
		}
	case enums.LedgerEntryKindAdjust:
		if input.ReserveDelta != 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "adjust mutation must not change reserved quantity")
		}
	}
	return nil
}

func checkCounters(record *models.StockRecord, input MutateInput, newTotal, newReserved int) error {
	if newTotal < 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "total quantity cannot go negative").
			WithDetails(map[string]any{
				"sku_id":    input.SKUID,
				"total_qty": record.TotalQty,
				"delta":     input.TotalDelta,
			})
	}
	if newReserved < 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "reserved quantity cannot go negative").
			WithDetails(map[string]any{
				"sku_id":       input.SKUID,
				"reserved_qty": record.ReservedQty,
				"delta":        input.ReserveDelta,
			})
	}
	if newReserved > newTotal {
		if input.ReserveDelta > 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough available stock").
				WithDetails(map[string]any{
					"sku_id":    input.SKUID,
					"requested": input.ReserveDelta,
					"available": newTotal - record.ReservedQty,
				})
		}
		return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "total quantity cannot drop below reserved quantity").
			WithDetails(map[string]any{
				"sku_id":       input.SKUID,
				"total_qty":    newTotal,
				"reserved_qty": newReserved,
			})
	}
	return nil
}

// ledgerDelta picks the journaled quantity for the mutation kind: reserve and
// release journal the reserved movement, deduct and adjust the total movement.
func ledgerDelta(input MutateInput) int {
	switch input.Kind {
	case enums.LedgerEntryKindReserve, enums.LedgerEntryKindRelease:
		return input.ReserveDelta
	default:
		return input.TotalDelta
	}
}

func isNotFound(err error) bool {
	return stdErrors.Is(err, gorm.ErrRecordNotFound)
}
