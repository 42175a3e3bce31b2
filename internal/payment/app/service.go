/**
 * @description
 * This file contains the payment state machine - the core business logic of
 * the payment-service. It owns the checkout, confirm, refund and cancel
 * operations and the rules for when a payment may change state.
 *
 * @notes
 * - State transitions are applied through compare-and-set repository calls,
 *   so two racing confirms produce exactly one completed payment; the loser
 *   observes the terminal state and reports success.
 * - A rail call whose outcome is unknown (timeout, transport error) never
 *   transitions state. The reconciliation sweep re-queries the rail for
 *   payments stuck in pending.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/authctx"
	"github.com/tripstack/booking-platform/internal/platform/events"
	"github.com/tripstack/booking-platform/pkg/railclient"
)

var (
	// ErrInvalidInput marks synchronous validation failures; no state was mutated.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden marks operations the actor is not allowed to perform.
	ErrForbidden = errors.New("forbidden")
	// ErrRailUnavailable marks an unknown rail outcome; the caller may retry.
	ErrRailUnavailable = errors.New("payment rail unavailable")
	// ErrNotRefundable is returned when a refund targets a non-completed payment.
	ErrNotRefundable = errors.New("payment is not refundable")
	// ErrNotConfirmable is returned when a confirm targets a payment that
	// already failed or was cancelled.
	ErrNotConfirmable = errors.New("payment can no longer be confirmed")
)

// RailGateway is the processor capability set the state machine needs.
type RailGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, method, reference, returnURL string) (*railclient.IntentResponse, error)
	ConfirmIntent(ctx context.Context, intentID, proof string) (*railclient.IntentResponse, error)
	GetIntent(ctx context.Context, intentID string) (*railclient.IntentResponse, error)
	RefundCapture(ctx context.Context, captureID string, amount int64, reason string) (*railclient.RefundResponse, error)
}

// Service implements the payment state machine.
type Service struct {
	repo      store.Repository
	gateway   RailGateway
	returnURL string
}

// NewService creates the payment service.
func NewService(repo store.Repository, gateway RailGateway, returnURL string) *Service {
	return &Service{repo: repo, gateway: gateway, returnURL: returnURL}
}

// InitiateCheckout creates a pending payment and opens an intent on the
// rail. The payment row is persisted before the rail call; if the rail call
// fails the payment stays pending and a retry with the same idempotency key
// (or the same open trip checkout) resumes it instead of charging twice.
func (s *Service) InitiateCheckout(ctx context.Context, actor authctx.Actor, req domain.CheckoutRequest) (*domain.CheckoutProjection, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !domain.ValidMethod(req.Method) {
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInput, req.Method)
	}
	if len(req.Currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	if req.TripID == uuid.Nil {
		return nil, fmt.Errorf("%w: trip id is required", ErrInvalidInput)
	}
	if req.Participants <= 0 {
		return nil, fmt.Errorf("%w: participants must be positive", ErrInvalidInput)
	}

	payload := events.BookingPayload{
		TripID:       req.TripID,
		Participants: req.Participants,
		TravelerName: strings.TrimSpace(req.TravelerName),
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: booking payload not serializable", ErrInvalidInput)
	}

	payment, err := s.resumableCheckout(ctx, actor.UserID, req)
	if err != nil {
		return nil, err
	}

	if payment == nil {
		payment = &domain.Payment{
			ID:             uuid.New(),
			OwnerID:        actor.UserID,
			TripID:         req.TripID,
			Amount:         req.Amount,
			NetAmount:      req.Amount,
			Currency:       strings.ToUpper(req.Currency),
			Method:         req.Method,
			Status:         domain.StatusPending,
			BookingPayload: blob,
		}
		if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
			payment.IdempotencyKey = &key
		}
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
	}

	// A payment resumed after completion carries no approval work.
	if payment.Status != domain.StatusPending {
		return &domain.CheckoutProjection{Payment: payment}, nil
	}

	return s.ensureIntent(ctx, payment)
}

// resumableCheckout returns an existing payment this request should resume:
// first by client idempotency key, then by an open pending checkout for the
// same trip with matching amount and method. A key reused with different
// checkout parameters is rejected rather than silently resuming a payment
// the client did not ask for.
func (s *Service) resumableCheckout(ctx context.Context, ownerID uuid.UUID, req domain.CheckoutRequest) (*domain.Payment, error) {
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		p, err := s.repo.FindPaymentByIdempotencyKey(ctx, ownerID, key)
		if err == nil {
			if p.TripID != req.TripID || p.Amount != req.Amount || p.Method != req.Method || !strings.EqualFold(p.Currency, req.Currency) {
				return nil, fmt.Errorf("%w: idempotency key was already used with different checkout parameters", ErrInvalidInput)
			}
			return p, nil
		}
		if !errors.Is(err, store.ErrPaymentNotFound) {
			return nil, err
		}
	}

	p, err := s.repo.FindOpenPendingPayment(ctx, ownerID, req.TripID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if p.Amount == req.Amount && p.Method == req.Method {
		return p, nil
	}
	return nil, nil
}

// ensureIntent opens the rail intent for a pending payment that has none
// yet, or re-fetches the approval handle for one that already does.
func (s *Service) ensureIntent(ctx context.Context, payment *domain.Payment) (*domain.CheckoutProjection, error) {
	if payment.RailIntentID == nil {
		resp, err := s.gateway.CreateIntent(ctx, payment.Amount, payment.Currency, payment.Method, payment.ID.String(), s.returnURL)
		if err != nil {
			// The pending row survives; a retry resumes it.
			log.Printf("level=warn component=payment_service op=initiate_checkout payment_id=%s msg=\"intent creation failed\" err=%v", payment.ID, err)
			return nil, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
		}

		refs := store.RailReferences{IntentID: &resp.Data.ID}
		if resp.Data.Attributes.SessionID != "" {
			refs.SessionID = &resp.Data.Attributes.SessionID
		}
		if resp.Data.Attributes.Fee > 0 {
			refs.Fee = &resp.Data.Attributes.Fee
		}
		if err := s.repo.SetRailReferences(ctx, payment.ID, refs); err != nil {
			return nil, fmt.Errorf("store rail references: %w", err)
		}
		payment.RailIntentID = refs.IntentID
		payment.RailSessionID = refs.SessionID

		return &domain.CheckoutProjection{Payment: payment, ApprovalURL: resp.Data.Attributes.ApprovalURL}, nil
	}

	// Resumed checkout: the intent already exists, fetch the current
	// approval handle so the client can finish payer approval.
	resp, err := s.gateway.GetIntent(ctx, *payment.RailIntentID)
	if err != nil {
		log.Printf("level=warn component=payment_service op=initiate_checkout payment_id=%s msg=\"approval handle refresh failed\" err=%v", payment.ID, err)
		return &domain.CheckoutProjection{Payment: payment}, nil
	}
	return &domain.CheckoutProjection{Payment: payment, ApprovalURL: resp.Data.Attributes.ApprovalURL}, nil
}

// Confirm validates the payer's approval proof with the rail and applies the
// resulting transition. Confirming an already-completed payment is a no-op
// returning the terminal state.
func (s *Service) Confirm(ctx context.Context, externalRef, proof string) (*domain.Payment, error) {
	if strings.TrimSpace(externalRef) == "" {
		return nil, fmt.Errorf("%w: external reference is required", ErrInvalidInput)
	}

	payment, err := s.repo.FindPaymentByRailReference(ctx, externalRef)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case domain.StatusCompleted, domain.StatusRefunded:
		return payment, nil
	case domain.StatusFailed, domain.StatusCancelled:
		return nil, ErrNotConfirmable
	}

	if payment.RailIntentID == nil {
		return nil, fmt.Errorf("%w: payment has no rail intent", ErrNotConfirmable)
	}

	resp, err := s.gateway.ConfirmIntent(ctx, *payment.RailIntentID, proof)
	if err != nil {
		var railErr *railclient.ErrorResponse
		if errors.As(err, &railErr) {
			// Definite decline from the rail.
			if _, failErr := s.repo.FailPayment(ctx, payment.ID, railErr.Detail()); failErr != nil {
				return nil, failErr
			}
			return s.repo.FindPaymentByID(ctx, payment.ID)
		}
		// Unknown outcome: no transition, reconciliation will settle it.
		return nil, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}

	return s.applyRailDecision(ctx, payment, resp)
}

// applyRailDecision maps the rail's authoritative intent state onto the
// payment. Used by both the synchronous confirm path and the reconciliation
// sweep.
func (s *Service) applyRailDecision(ctx context.Context, payment *domain.Payment, resp *railclient.IntentResponse) (*domain.Payment, error) {
	switch strings.ToLower(resp.Data.Attributes.Status) {
	case "completed", "captured", "succeeded":
		var captureID *string
		if resp.Data.Attributes.CaptureID != "" {
			captureID = &resp.Data.Attributes.CaptureID
		}
		txID := resp.Data.Attributes.CaptureID
		if txID == "" {
			txID = resp.Data.ID
		}
		fact, err := s.completionFact(payment, txID)
		if err != nil {
			return nil, err
		}
		if _, err := s.repo.CompletePaymentAndEnqueueFact(ctx, payment.ID, captureID, fact); err != nil {
			return nil, err
		}
	case "processing":
		if _, err := s.repo.MarkPaymentProcessing(ctx, payment.ID); err != nil {
			return nil, err
		}
	case "failed", "declined":
		reason := strings.TrimSpace(resp.Data.Attributes.FailureReason)
		if reason == "" {
			reason = "declined by rail"
		}
		if _, err := s.repo.FailPayment(ctx, payment.ID, reason); err != nil {
			return nil, err
		}
	case "expired":
		if _, err := s.repo.CancelPayment(ctx, payment.ID); err != nil {
			return nil, err
		}
	}
	return s.repo.FindPaymentByID(ctx, payment.ID)
}

// Refund refunds a completed payment, fully by default. Full refunds flip
// the payment to refunded and publish a refund fact; partial refunds are
// recorded on the rail but leave the payment completed and the booking
// untouched.
func (s *Service) Refund(ctx context.Context, actor authctx.Actor, paymentID uuid.UUID, amount *int64) (*domain.Payment, error) {
	if !actor.IsAdmin() && !actor.IsInternal() {
		return nil, ErrForbidden
	}

	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.StatusCompleted {
		if payment.Status == domain.StatusRefunded {
			return payment, nil
		}
		return nil, ErrNotRefundable
	}
	if payment.RailCaptureID == nil {
		return nil, fmt.Errorf("%w: payment has no capture to refund", ErrNotRefundable)
	}

	refundAmount := payment.Amount
	partial := false
	if amount != nil {
		if *amount <= 0 || *amount > payment.Amount {
			return nil, fmt.Errorf("%w: refund amount out of range", ErrInvalidInput)
		}
		partial = *amount < payment.Amount
		refundAmount = *amount
	}

	if _, err := s.gateway.RefundCapture(ctx, *payment.RailCaptureID, refundAmount, "admin refund"); err != nil {
		var railErr *railclient.ErrorResponse
		if errors.As(err, &railErr) {
			return nil, fmt.Errorf("rail rejected refund: %w", railErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}

	if partial {
		log.Printf("level=info component=payment_service op=refund payment_id=%s amount=%d msg=\"partial refund recorded; payment stays completed\"", payment.ID, refundAmount)
		return payment, nil
	}

	fact := events.PaymentRefundedEvent{
		PaymentID:     payment.ID,
		OwnerID:       payment.OwnerID,
		TripID:        payment.TripID,
		BookingID:     payment.BookingID,
		TransactionID: transactionID(payment),
		Amount:        refundAmount,
		Currency:      payment.Currency,
		RefundedAt:    time.Now().UTC(),
	}
	if _, err := s.repo.RefundPaymentAndEnqueueFact(ctx, payment.ID, fact); err != nil {
		return nil, err
	}
	return s.repo.FindPaymentByID(ctx, payment.ID)
}

// AttachBooking stamps the materialized booking onto the payment. Only the
// booking-side saga consumer reports this, over the internal API; once set,
// refund facts for the payment carry the booking id.
func (s *Service) AttachBooking(ctx context.Context, actor authctx.Actor, paymentID, bookingID uuid.UUID) (*domain.Payment, error) {
	if !actor.IsAdmin() && !actor.IsInternal() {
		return nil, ErrForbidden
	}
	if bookingID == uuid.Nil {
		return nil, fmt.Errorf("%w: booking id is required", ErrInvalidInput)
	}
	if _, err := s.repo.FindPaymentByID(ctx, paymentID); err != nil {
		return nil, err
	}
	if err := s.repo.SetPaymentBookingID(ctx, paymentID, bookingID); err != nil {
		return nil, err
	}
	return s.repo.FindPaymentByID(ctx, paymentID)
}

// CancelCheckout lets the owner abandon a pending or processing checkout.
func (s *Service) CancelCheckout(ctx context.Context, actor authctx.Actor, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(payment.OwnerID) {
		return nil, ErrForbidden
	}
	if domain.IsTerminal(payment.Status) {
		if payment.Status == domain.StatusCancelled {
			return payment, nil
		}
		return nil, fmt.Errorf("%w: payment is %s", ErrNotConfirmable, payment.Status)
	}
	if _, err := s.repo.CancelPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.repo.FindPaymentByID(ctx, paymentID)
}

// GetPayment returns a payment the actor may see.
func (s *Service) GetPayment(ctx context.Context, actor authctx.Actor, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(payment.OwnerID) {
		return nil, ErrForbidden
	}
	return payment, nil
}

// ListPayments returns the actor's own payments, newest first.
func (s *Service) ListPayments(ctx context.Context, actor authctx.Actor, limit, offset int) ([]domain.Payment, error) {
	return s.repo.ListPaymentsByOwner(ctx, actor.UserID, limit, offset)
}

// completionFact assembles the completion fact from the payment row and the
// rail transaction id that settled it.
func (s *Service) completionFact(payment *domain.Payment, txID string) (events.PaymentCompletedEvent, error) {
	var payload events.BookingPayload
	if err := json.Unmarshal(payment.BookingPayload, &payload); err != nil {
		return events.PaymentCompletedEvent{}, fmt.Errorf("decode booking payload: %w", err)
	}

	return events.PaymentCompletedEvent{
		PaymentID:     payment.ID,
		OwnerID:       payment.OwnerID,
		TripID:        payment.TripID,
		TransactionID: txID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		CompletedAt:   time.Now().UTC(),
		Booking:       payload,
	}, nil
}

// transactionID returns the dedup key carried on facts for this payment.
func transactionID(p *domain.Payment) string {
	if p.RailCaptureID != nil {
		return *p.RailCaptureID
	}
	if p.RailIntentID != nil {
		return *p.RailIntentID
	}
	return p.ID.String()
}
