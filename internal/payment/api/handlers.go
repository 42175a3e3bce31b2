/**
 * @description
 * This file contains the HTTP handlers for the payment-service API. Handlers
 * parse incoming requests, build the actor from the authenticated context,
 * call the application service, and map typed service errors onto HTTP
 * status codes (retryable vs terminal).
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/payment/app, internal/payment/domain, internal/payment/store.
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
	"github.com/tripstack/booking-platform/internal/payment/app"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/authctx"
)

// PaymentHandlers holds the application service that handlers use.
type PaymentHandlers struct {
	service        *app.Service
	limiter        *app.RedisCheckoutRateLimiter
	checkoutPerMin int
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// SetRateLimiter enables checkout rate limiting with the given per-minute cap.
func (h *PaymentHandlers) SetRateLimiter(limiter *app.RedisCheckoutRateLimiter, perMinute int) {
	h.limiter = limiter
	h.checkoutPerMin = perMinute
}

func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
		}
	}
}

func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps typed application errors to HTTP responses with
// enough detail for the client to tell retryable from terminal failures.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "You are not allowed to perform this action")
	case errors.Is(err, store.ErrPaymentNotFound):
		h.writeError(w, http.StatusNotFound, "Payment not found")
	case errors.Is(err, app.ErrRailUnavailable):
		// Unknown outcome: tell the client the payment is still pending
		// rather than reporting a false failure.
		h.writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  domain.StatusPending,
			"message": "Payment is pending confirmation. Check back shortly.",
		})
	case errors.Is(err, app.ErrNotConfirmable), errors.Is(err, app.ErrNotRefundable):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *PaymentHandlers) actor(w http.ResponseWriter, r *http.Request) (authctx.Actor, bool) {
	actor, ok := authctx.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return authctx.Actor{}, false
	}
	return actor, true
}

// CheckoutHandler initiates a payment-first checkout.
func (h *PaymentHandlers) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if h.limiter != nil && h.checkoutPerMin > 0 {
		_, retryAfter, err := h.limiter.Consume(r.Context(), actor.UserID.String(), h.checkoutPerMin, time.Minute)
		if err != nil {
			log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many checkout attempts. Try again shortly.")
			return
		}
	}

	var req domain.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	projection, err := h.service.InitiateCheckout(r.Context(), actor, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, projection)
}

// ConfirmHandler applies the payer's approval proof to a payment.
func (h *PaymentHandlers) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	var req domain.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.service.Confirm(r.Context(), req.ExternalReference, req.Proof)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// RefundHandler performs the privileged refund action.
func (h *PaymentHandlers) RefundHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return
	}

	var req domain.RefundActionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	payment, err := h.service.Refund(r.Context(), actor, paymentID, req.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

type attachBookingRequest struct {
	BookingID uuid.UUID `json:"booking_id"`
}

// AttachBookingHandler records the booking the saga consumer materialized
// for a completed payment. Internal-key only.
func (h *PaymentHandlers) AttachBookingHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return
	}

	var req attachBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.service.AttachBooking(r.Context(), actor, paymentID, req.BookingID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// CancelHandler lets the owner abandon an open checkout.
func (h *PaymentHandlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return
	}

	payment, err := h.service.CancelCheckout(r.Context(), actor, paymentID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// GetPaymentHandler returns one payment projection.
func (h *PaymentHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment id")
		return
	}

	payment, err := h.service.GetPayment(r.Context(), actor, paymentID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// ListPaymentsHandler returns the caller's payments, newest first.
func (h *PaymentHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payments, err := h.service.ListPayments(r.Context(), actor, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	h.writeJSON(w, http.StatusOK, payments)
}
