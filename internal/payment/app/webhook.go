package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/payment/store"
)

// WebhookOutcome is the typed result of processing an inbound rail event.
// Duplicates are an expected delivery pattern, not errors.
type WebhookOutcome int

const (
	// OutcomeProcessed means the event was admitted and its transition applied.
	OutcomeProcessed WebhookOutcome = iota
	// OutcomeDuplicate means the event id was already admitted; nothing changed.
	OutcomeDuplicate
	// OutcomeIgnored means the event carries nothing actionable (unknown
	// type, unknown reference, or a transition the payment already passed).
	OutcomeIgnored
)

// Rail webhook event types the state machine reacts to.
const (
	RailEventIntentProcessing = "intent.processing"
	RailEventIntentCompleted  = "intent.completed"
	RailEventIntentFailed     = "intent.failed"
)

// RailEvent is the decoded, signature-verified webhook delivery.
type RailEvent struct {
	EventID       string
	EventType     string
	IntentID      string
	CaptureID     string
	FailureReason string
}

// HandleRailEvent applies one inbound rail event to the payment it
// references. The admit and the transition run in a single storage
// transaction, so a crash after admit cannot strand the payment and a
// redelivered event id short-circuits as a duplicate.
func (s *Service) HandleRailEvent(ctx context.Context, ev RailEvent) (WebhookOutcome, error) {
	if ev.EventID == "" || ev.IntentID == "" {
		return OutcomeIgnored, fmt.Errorf("%w: event id and intent id are required", ErrInvalidInput)
	}

	payment, err := s.repo.FindPaymentByRailReference(ctx, ev.IntentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("level=warn component=payment_webhook msg=\"no payment for rail reference; dropping\" event_id=%s intent_id=%s", ev.EventID, ev.IntentID)
			return OutcomeIgnored, nil
		}
		return OutcomeIgnored, err
	}

	switch ev.EventType {
	case RailEventIntentCompleted:
		txID := ev.CaptureID
		if txID == "" {
			txID = ev.IntentID
		}
		fact, err := s.completionFact(payment, txID)
		if err != nil {
			return OutcomeIgnored, err
		}
		var captureID *string
		if ev.CaptureID != "" {
			captureID = &ev.CaptureID
		}
		admitted, applied, err := s.repo.CompletePaymentViaWebhook(ctx, ev.EventID, payment.ID, captureID, fact)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !admitted {
			return OutcomeDuplicate, nil
		}
		if !applied {
			// Lost the race with a concurrent confirm; the payment is
			// already terminal and exactly one fact was enqueued.
			return OutcomeIgnored, nil
		}
		return OutcomeProcessed, nil

	case RailEventIntentFailed:
		reason := ev.FailureReason
		if reason == "" {
			reason = "declined by rail"
		}
		admitted, applied, err := s.repo.FailPaymentViaWebhook(ctx, ev.EventID, payment.ID, reason)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !admitted {
			return OutcomeDuplicate, nil
		}
		if !applied {
			return OutcomeIgnored, nil
		}
		return OutcomeProcessed, nil

	case RailEventIntentProcessing:
		if payment.Status != domain.StatusPending {
			return OutcomeIgnored, nil
		}
		if _, err := s.repo.MarkPaymentProcessing(ctx, payment.ID); err != nil {
			return OutcomeIgnored, err
		}
		return OutcomeProcessed, nil

	default:
		log.Printf("level=info component=payment_webhook msg=\"unhandled rail event type\" event_id=%s event_type=%s", ev.EventID, ev.EventType)
		return OutcomeIgnored, nil
	}
}
