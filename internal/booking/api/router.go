/**
 * @description
 * This file sets up the HTTP router for the booking-service. It defines the
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

// BookingRoutes creates and returns the router for the booking service.
func BookingRoutes(h *BookingHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public trip browsing.
	r.Get("/trips", h.ListTripsHandler)
	r.Get("/trips/{tripID}", h.GetTripHandler)

	// Authenticated traveler endpoints.
	r.Group(func(r chi.Router) {
		r.Use(httpauth.BearerAuth(jwksURL))

		r.Get("/", h.ListBookingsHandler)
		r.Get("/{bookingID}", h.GetBookingHandler)
		r.Post("/{bookingID}/cancel", h.CancelBookingHandler)
	})

	// Trip administration guarded by the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(httpauth.InternalKeyAuth(internalAPIKey))

		r.Post("/internal/trips", h.CreateTripHandler)
	})

	return r
}
