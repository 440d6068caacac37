package enums

import "fmt"

// ReservationKind distinguishes cart holds from order holds.
type ReservationKind string

const (
	ReservationKindCart  ReservationKind = "cart"
	ReservationKindOrder ReservationKind = "order"
)

var validReservationKinds = []ReservationKind{
	ReservationKindCart,
	ReservationKindOrder,
}

// String implements fmt.Stringer.
func (k ReservationKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known ReservationKind.
func (k ReservationKind) IsValid() bool {
	for _, candidate := range validReservationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseReservationKind converts raw input into a ReservationKind.
func ParseReservationKind(value string) (ReservationKind, error) {
	for _, candidate := range validReservationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation kind %q", value)
}
