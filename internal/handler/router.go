package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/ecosort/rewards-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса вознаграждений.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/vouchers", func(r chi.Router) {
		r.Get("/", h.ListVouchers)
		r.Get("/{id}", h.GetVoucher)

		r.With(h.authMiddleware.Middleware).Post("/{id}/redeem", h.Redeem)
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/balance", h.GetBalance)
		r.Post("/points/earn", h.EarnPoints)

		r.Get("/vouchers/affordable", h.ListAffordableVouchers)

		r.Get("/redemptions", h.ListRedemptions)
		r.Post("/redemptions/{id}/use", h.UseRedemption)

		r.Get("/transactions", h.ListTransactions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

func pathParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
