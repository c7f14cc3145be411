// Package http exposes the storefront REST API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Orders         OrderService
	Payments       PaymentService
	Carts          CartService
	Stock          StockService
	DB             Pinger
	Validator      *auth.Validator
	RequestTimeout time.Duration
	Log            *zap.Logger
}

func NewRouter(cfg RouterConfig) chi.Router {
	orders := NewOrdersHandler(cfg.Orders, cfg.RequestTimeout, cfg.Log)
	payments := NewPaymentHandler(cfg.Payments, cfg.RequestTimeout, cfg.Log)
	carts := NewCartHandler(cfg.Carts, cfg.RequestTimeout, cfg.Log)
	stock := NewStockHandler(cfg.Stock, cfg.RequestTimeout, cfg.Log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := cfg.DB.Ping(ctx); err != nil {
			cfg.Log.Warn("health check failed", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, envelope{"success": false, "status": "unavailable"})
			return
		}
		respondOK(w, http.StatusOK, envelope{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Validator))

		r.Route("/order", func(r chi.Router) {
			r.Post("/create", orders.CreateOrder)
			r.Get("/orders/mine", orders.ListMyOrders)
			r.Get("/orders/{id}", orders.GetOrder)
			r.Put("/orders/cancel/{id}", orders.CancelOrder)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/orders", orders.ListAllOrders)
				r.Put("/orders/{id}", orders.UpdateOrderStatus)
				r.Delete("/orders/{id}", orders.DeleteOrder)
			})
		})

		r.Route("/payment", func(r chi.Router) {
			r.Post("/create", payments.CreatePayment)
			r.Post("/confirm", payments.ConfirmPayment)
			r.Post("/fail", payments.FailPayment)
			r.Post("/refund/{orderId}", payments.Refund)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Post("/", carts.AddItem)
			r.Delete("/", carts.ClearCart)
			r.Put("/{productId}", carts.UpdateQuantity)
			r.Delete("/{productId}", carts.RemoveItem)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/products/{productId}/stock", stock.GetStock)
			r.Put("/products/{productId}/stock", stock.SetStock)
		})
	})

	return r
}
