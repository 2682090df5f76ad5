package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/digistore/internal/apperr"
	custommiddleware "github.com/mmeshcher/digistore/internal/middleware"
	"github.com/mmeshcher/digistore/internal/model"
)

var (
	errRouteNotFound    = apperr.New(apperr.CodeNotFound, "route_not_found", "ไม่พบหน้าที่ต้องการ")
	errMethodNotAllowed = apperr.New(apperr.CodeValidation, "method_not_allowed", "ไม่รองรับคำขอนี้")
)

// SetupRouter настраивает маршруты и middleware витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))

	// promhttp сам сжимает ответ
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Get("/healthz", h.Healthz)

		r.Route("/api", func(r chi.Router) {
			r.Use(h.tenant.Middleware)
			r.Use(h.auth.Middleware)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetOrders)

			r.Get("/balance", h.GetBalance)

			r.Post("/topup/voucher", h.RedeemVoucher)
			r.Post("/topup/slip", h.VerifySlip)
			r.Get("/topups", h.GetTopups)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleOwner))
				r.Post("/admin/orders/{id}/resolve", h.ResolveOrder)
			})

			r.Route("/master/shops", func(r chi.Router) {
				r.Post("/", h.ProvisionShop)
				r.Post("/{id}/renew", h.RenewShop)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperr.Write(w, errRouteNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_, body := apperr.Body(errMethodNotAllowed)
		h.writeJSON(w, http.StatusMethodNotAllowed, body)
	})

	return r
}
