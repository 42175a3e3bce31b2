/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the
 * API endpoints, associates them with their handlers, and applies middleware
 * for logging, panic recovery, CORS, and authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: HTTP routing.
 * - github.com/go-chi/cors: CORS middleware for the public surface.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tripstack/booking-platform/pkg/httpauth"
)

// PaymentRoutes creates and returns the router for the payment service.
func PaymentRoutes(h *PaymentHandlers, webhook *WebhookHandler, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Signed webhook endpoint from the rail; authenticated by signature,
	// not by bearer token.
	r.Method(http.MethodPost, "/webhooks/rail", webhook)

	// Authenticated client endpoints.
	r.Group(func(r chi.Router) {
		r.Use(httpauth.BearerAuth(jwksURL))

		r.Post("/checkout", h.CheckoutHandler)
		r.Post("/confirm", h.ConfirmHandler)
		r.Get("/", h.ListPaymentsHandler)
		r.Get("/{paymentID}", h.GetPaymentHandler)
		r.Post("/{paymentID}/cancel", h.CancelHandler)
		r.Post("/{paymentID}/refund", h.RefundHandler)
	})

	// Service-to-service paths guarded by the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(httpauth.InternalKeyAuth(internalAPIKey))

		r.Post("/internal/{paymentID}/refund", h.RefundHandler)
		r.Post("/internal/{paymentID}/booking", h.AttachBookingHandler)
	})

	return r
}
