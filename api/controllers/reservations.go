package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/HaoranTong/inventory-engine/api/responses"
	"github.com/HaoranTong/inventory-engine/api/validators"
	"github.com/HaoranTong/inventory-engine/internal/reservation"
	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
)

type ReserveItemBody struct {
	SKUID string `json:"sku_id" validate:"required,min=1,max=64"`
	Qty   int    `json:"qty" validate:"required,gt=0"`
}

type ReserveBody struct {
	Kind        string            `json:"kind" validate:"required,oneof=cart order"`
	ReferenceID string            `json:"reference_id" validate:"required,min=1,max=128"`
	Items       []ReserveItemBody `json:"items" validate:"required,min=1,max=100,dive"`
	TTLSeconds  int               `json:"ttl_seconds,omitempty" validate:"min=0"`
}

type ExtendBody struct {
	ReservationID     string `json:"reservation_id" validate:"required,uuid4"`
	AdditionalSeconds int    `json:"additional_seconds" validate:"required,gt=0"`
}

type reservationView struct {
	ID          string    `json:"id"`
	SKUID       string    `json:"sku_id"`
	Kind        string    `json:"kind"`
	ReferenceID string    `json:"reference_id"`
	Qty         int       `json:"qty"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func newReservationView(reservation models.Reservation) reservationView {
	return reservationView{
		ID:          reservation.ID.String(),
		SKUID:       reservation.SKUID,
		Kind:        reservation.Kind.String(),
		ReferenceID: reservation.ReferenceID,
		Qty:         reservation.Qty,
		Status:      reservation.Status.String(),
		ExpiresAt:   reservation.ExpiresAt,
		CreatedAt:   reservation.CreatedAt,
	}
}

func newReservationViews(reservations []models.Reservation) []reservationView {
	views := make([]reservationView, 0, len(reservations))
	for _, r := range reservations {
		views = append(views, newReservationView(r))
	}
	return views
}

// ReservationsCreate places holds for every item in the request, atomically.
func ReservationsCreate(svc *reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ReserveBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseReservationKind(body.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation kind"))
			return
		}
		ttl := time.Duration(body.TTLSeconds) * time.Second

		var held []models.Reservation
		if len(body.Items) == 1 {
			one, err := svc.Reserve(r.Context(), reservation.ReserveInput{
				SKUID:       validators.SanitizeString(body.Items[0].SKUID, maxSKULen),
				Kind:        kind,
				ReferenceID: body.ReferenceID,
				Qty:         body.Items[0].Qty,
				TTL:         ttl,
			})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			held = []models.Reservation{*one}
		} else {
			items := make([]reservation.BatchItem, 0, len(body.Items))
			for _, item := range body.Items {
				items = append(items, reservation.BatchItem{
					SKUID: validators.SanitizeString(item.SKUID, maxSKULen),
					Qty:   item.Qty,
				})
			}
			held, err = svc.ReserveBatch(r.Context(), kind, body.ReferenceID, items, ttl)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newReservationViews(held))
	}
}

// ReservationsExtend pushes an active hold's deadline out.
func ReservationsExtend(svc *reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ExtendBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := uuid.Parse(body.ReservationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation id"))
			return
		}

		extended, err := svc.Extend(r.Context(), id, time.Duration(body.AdditionalSeconds)*time.Second)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReservationView(*extended))
	}
}

// ReservationsRelease voids every active hold for a (kind, reference).
func ReservationsRelease(svc *reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, referenceID, err := referenceFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Release(r.Context(), kind, referenceID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "released"})
	}
}

// ReservationsGet loads one reservation by id.
func ReservationsGet(svc *reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "reservationID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation id"))
			return
		}

		found, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReservationView(*found))
	}
}

// ReservationsListByReference lists every hold for a (kind, reference),
// terminal rows included.
func ReservationsListByReference(svc *reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, referenceID, err := referenceFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reservations, err := svc.ListByReference(r.Context(), kind, referenceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReservationViews(reservations))
	}
}

func referenceFromPath(r *http.Request) (enums.ReservationKind, string, error) {
	kind, err := enums.ParseReservationKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation kind")
	}
	referenceID := validators.SanitizeString(chi.URLParam(r, "referenceID"), 128)
	if referenceID == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	return kind, referenceID, nil
}
