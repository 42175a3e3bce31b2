/**
 * @description
 * This file contains the HTTP handlers for the booking-service API. Handlers
 * parse incoming requests, build the actor from the authenticated context,
 * call the application service, and map typed service errors onto HTTP
 * status codes.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/booking/app"
	"github.com/tripstack/booking-platform/internal/booking/domain"
	"github.com/tripstack/booking-platform/internal/booking/store"
	"github.com/tripstack/booking-platform/internal/platform/authctx"
)

// BookingHandlers holds the application service that handlers use.
type BookingHandlers struct {
	service *app.Service
}

// NewBookingHandlers creates a new instance of BookingHandlers.
func NewBookingHandlers(service *app.Service) *BookingHandlers {
	return &BookingHandlers{service: service}
}

func (h *BookingHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
		}
	}
}

func (h *BookingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *BookingHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "You are not allowed to perform this action")
	case errors.Is(err, store.ErrBookingNotFound):
		h.writeError(w, http.StatusNotFound, "Booking not found")
	case errors.Is(err, store.ErrTripNotFound):
		h.writeError(w, http.StatusNotFound, "Trip not found")
	case errors.Is(err, app.ErrCutoffPassed), errors.Is(err, app.ErrAlreadyCancelled):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *BookingHandlers) actor(w http.ResponseWriter, r *http.Request) (authctx.Actor, bool) {
	actor, ok := authctx.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return authctx.Actor{}, false
	}
	return actor, true
}

// ListBookingsHandler returns the caller's bookings, newest first.
func (h *BookingHandlers) ListBookingsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	bookings, err := h.service.ListBookings(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	h.writeJSON(w, http.StatusOK, bookings)
}

// GetBookingHandler returns one booking.
func (h *BookingHandlers) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid booking id")
		return
	}

	booking, err := h.service.GetBooking(r.Context(), actor, bookingID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, booking)
}

// CancelBookingHandler performs a traveler-initiated cancellation.
func (h *BookingHandlers) CancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid booking id")
		return
	}

	booking, err := h.service.CancelBooking(r.Context(), actor, bookingID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, booking)
}

type createTripRequest struct {
	Title        string    `json:"title"`
	Destination  string    `json:"destination"`
	StartDate    time.Time `json:"start_date"`
	PricePerSeat int64     `json:"price_per_seat"`
	Currency     string    `json:"currency"`
	Capacity     int       `json:"capacity"`
}

// CreateTripHandler registers a new trip. Internal/admin only.
func (h *BookingHandlers) CreateTripHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	trip, err := h.service.CreateTrip(r.Context(), actor, &domain.Trip{
		Title:        req.Title,
		Destination:  req.Destination,
		StartDate:    req.StartDate,
		PricePerSeat: req.PricePerSeat,
		Currency:     req.Currency,
		Capacity:     req.Capacity,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, trip)
}

// ListTripsHandler returns upcoming trips.
func (h *BookingHandlers) ListTripsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	trips, err := h.service.ListTrips(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	h.writeJSON(w, http.StatusOK, trips)
}

// GetTripHandler returns one trip.
func (h *BookingHandlers) GetTripHandler(w http.ResponseWriter, r *http.Request) {
	tripID, err := uuid.Parse(chi.URLParam(r, "tripID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid trip id")
		return
	}

	trip, err := h.service.GetTrip(r.Context(), tripID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trip)
}
