package enums

import "fmt"

// LedgerEntryKind classifies a stock ledger entry. The kind determines which
// counters the entry's delta applies to when the ledger is replayed:
// reserve/release move reserved_qty, deduct moves both counters, and adjust
// moves total_qty only.
type LedgerEntryKind string

const (
	LedgerEntryKindReserve LedgerEntryKind = "reserve"
	LedgerEntryKindRelease LedgerEntryKind = "release"
	LedgerEntryKindDeduct  LedgerEntryKind = "deduct"
	LedgerEntryKindAdjust  LedgerEntryKind = "adjust"
)

var validLedgerEntryKinds = []LedgerEntryKind{
	LedgerEntryKindReserve,
	LedgerEntryKindRelease,
	LedgerEntryKindDeduct,
	LedgerEntryKindAdjust,
}

// IsValid reports whether the value is a known LedgerEntryKind.
func (k LedgerEntryKind) IsValid() bool {
	for _, candidate := range validLedgerEntryKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseLedgerEntryKind converts raw input into a LedgerEntryKind.
func ParseLedgerEntryKind(value string) (LedgerEntryKind, error) {
	for _, candidate := range validLedgerEntryKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry kind %q", value)
}
