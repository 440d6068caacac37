package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HaoranTong/inventory-engine/api/controllers"
	"github.com/HaoranTong/inventory-engine/api/middleware"
	"github.com/HaoranTong/inventory-engine/internal/deduction"
	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/internal/ledger"
	"github.com/HaoranTong/inventory-engine/internal/reservation"
	"github.com/HaoranTong/inventory-engine/pkg/config"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	DBPinger     controllers.Pinger
	RedisPinger  controllers.Pinger
	Inventory    *inventory.Service
	Ledger       ledger.Service
	Reservations *reservation.Service
	Deductions   *deduction.Service
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(deps.Logger),
		middleware.RequestID(deps.Logger),
		middleware.Logging(deps.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Config))
		r.Get("/ready", controllers.HealthReady(deps.Config, deps.Logger, deps.DBPinger, deps.RedisPinger))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/stock", func(r chi.Router) {
			r.Get("/low", controllers.StockLow(deps.Inventory, deps.Logger))
			r.Get("/{skuID}", controllers.StockGet(deps.Inventory, deps.Logger))
			r.Post("/{skuID}/adjust", controllers.StockAdjust(deps.Inventory, deps.Logger))
			r.Put("/{skuID}/thresholds", controllers.StockSetThresholds(deps.Inventory, deps.Logger))
			r.Get("/{skuID}/ledger", controllers.StockLedger(deps.Ledger, deps.Logger))
			r.Get("/{skuID}/reconcile", controllers.StockReconcile(deps.Ledger, deps.Logger))
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", controllers.ReservationsCreate(deps.Reservations, deps.Logger))
			r.Post("/extend", controllers.ReservationsExtend(deps.Reservations, deps.Logger))
			r.Get("/id/{reservationID}", controllers.ReservationsGet(deps.Reservations, deps.Logger))
			r.Get("/{kind}/{referenceID}", controllers.ReservationsListByReference(deps.Reservations, deps.Logger))
			r.Delete("/{kind}/{referenceID}", controllers.ReservationsRelease(deps.Reservations, deps.Logger))
		})

		r.Post("/deductions", controllers.DeductionsCreate(deps.Deductions, deps.Logger))
	})

	return r
}
