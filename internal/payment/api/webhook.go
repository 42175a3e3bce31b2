/**
 * @description
 * This file contains the HTTP handler for inbound webhooks from the payment
 * rail. It is the asynchronous entry point of the checkout saga.
 *
 * Key behavior:
 * - Security: the raw body is HMAC-verified before anything is parsed.
 * - Idempotency: the rail event id is admitted into a durable dedup table in
 *   the same transaction as the state transition; a redelivered event id is
 *   acknowledged with 200 and no effect, so the rail stops retrying.
 * - Failure: signature failures return 401; processing failures return 5xx
 *   so the rail's own retry kicks in.
 */
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/tripstack/booking-platform/internal/payment/app"
)

// SignatureVerifier validates the rail's webhook signature header.
type SignatureVerifier interface {
	Verify(signatureHeader string, body []byte) bool
}

// WebhookHandler processes incoming rail webhooks.
type WebhookHandler struct {
	service  *app.Service
	verifier SignatureVerifier
}

// NewWebhookHandler creates the handler for the rail webhook endpoint.
func NewWebhookHandler(service *app.Service, verifier SignatureVerifier) *WebhookHandler {
	return &WebhookHandler{service: service, verifier: verifier}
}

// railWebhookEnvelope is the wire shape of a rail webhook delivery.
type railWebhookEnvelope struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		ID         string `json:"id"` // intent id
		Attributes struct {
			CaptureID string `json:"captureId"`
			Reason    string `json:"reason"`
		} `json:"attributes"`
	} `json:"data"`
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if !h.verifier.Verify(r.Header.Get("x-rail-signature"), body) {
		log.Printf("level=warn component=payment_webhook msg=\"invalid webhook signature\" remote=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope railWebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.HandleRailEvent(r.Context(), app.RailEvent{
		EventID:       envelope.ID,
		EventType:     envelope.Event,
		IntentID:      envelope.Data.ID,
		CaptureID:     envelope.Data.Attributes.CaptureID,
		FailureReason: envelope.Data.Attributes.Reason,
	})
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			http.Error(w, "Event is missing required identifiers", http.StatusBadRequest)
			return
		}
		log.Printf("level=error component=payment_webhook msg=\"webhook processing failed\" event_id=%s err=%v", envelope.ID, err)
		http.Error(w, "Internal server error during event processing", http.StatusInternalServerError)
		return
	}

	switch outcome {
	case app.OutcomeDuplicate:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Duplicate event ignored"))
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Webhook received"))
	}
}
