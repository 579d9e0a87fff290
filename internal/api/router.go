package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-shop-api/internal/auth"
	"github.com/safar/go-shop-api/internal/cache"
	"github.com/safar/go-shop-api/internal/config"
	"github.com/safar/go-shop-api/internal/payment"
	"github.com/safar/go-shop-api/internal/settlement"
	"go.uber.org/zap"
)

type Handler struct {
	db         *sql.DB
	cfg        *config.Config
	auth       *auth.Service
	settlement *settlement.Service
	registry   *payment.Registry
	cache      *cache.Cache
	log        *zap.Logger
}

func NewHandler(db *sql.DB, cfg *config.Config, authSvc *auth.Service, settlementSvc *settlement.Service, registry *payment.Registry, cacheClient *cache.Cache, log *zap.Logger) *Handler {
	return &Handler{
		db:         db,
		cfg:        cfg,
		auth:       authSvc,
		settlement: settlementSvc,
		registry:   registry,
		cache:      cacheClient,
		log:        log,
	}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/categories", h.ListCategories)
		r.Get("/categories/{id}", h.GetCategory)
		r.Get("/categories/{id}/children", h.ListCategoryChildren)

		// Provider notifications authenticate by signature, not by token.
		r.Post("/webhooks/{provider}", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Get("/auth/me", h.Me)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/cancel", h.CancelOrder)

			r.Post("/payments/initiate", h.InitiatePayment)
			r.Post("/payments/{id}/verify", h.VerifyPayment)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireAdmin)

				r.Post("/products", h.CreateProduct)
				r.Put("/products/{id}", h.UpdateProduct)
				r.Delete("/products/{id}", h.DeleteProduct)

				r.Post("/categories", h.CreateCategory)
				r.Put("/categories/{id}", h.UpdateCategory)
				r.Delete("/categories/{id}", h.DeleteCategory)

				r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
				r.Post("/payments/{id}/refund", h.RefundPayment)
			})
		})
	})

	return r
}
