package controllers

import (
	"net/http"

	"github.com/HaoranTong/inventory-engine/api/responses"
	"github.com/HaoranTong/inventory-engine/api/validators"
	"github.com/HaoranTong/inventory-engine/internal/deduction"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
	pkgerrors "github.com/HaoranTong/inventory-engine/pkg/errors"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
)

type DeductBody struct {
	Kind        string `json:"kind" validate:"required,oneof=cart order"`
	ReferenceID string `json:"reference_id" validate:"required,min=1,max=128"`
}

// DeductionsCreate consumes every hold for a (kind, reference) and removes
// the held units from stock permanently.
func DeductionsCreate(svc *deduction.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body DeductBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseReservationKind(body.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation kind"))
			return
		}

		consumed, err := svc.Deduct(r.Context(), kind, validators.SanitizeString(body.ReferenceID, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReservationViews(consumed))
	}
}
