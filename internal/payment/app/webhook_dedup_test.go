package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
)

type webhookRepoStub struct {
	store.Repository

	payment *domain.Payment

	admittedEvents map[string]bool
	completedFacts []events.PaymentCompletedEvent
	failedReasons  []string
}

func newWebhookRepoStub(payment *domain.Payment) *webhookRepoStub {
	return &webhookRepoStub{payment: payment, admittedEvents: map[string]bool{}}
}

func (s *webhookRepoStub) FindPaymentByRailReference(ctx context.Context, ref string) (*domain.Payment, error) {
	if s.payment == nil {
		return nil, store.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *webhookRepoStub) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.payment, nil
}

func (s *webhookRepoStub) CompletePaymentViaWebhook(ctx context.Context, eventID string, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (bool, bool, error) {
	if s.admittedEvents[eventID] {
		return false, false, nil
	}
	s.admittedEvents[eventID] = true
	if domain.IsTerminal(s.payment.Status) {
		return true, false, nil
	}
	s.payment.Status = domain.StatusCompleted
	s.completedFacts = append(s.completedFacts, fact)
	return true, true, nil
}

func (s *webhookRepoStub) FailPaymentViaWebhook(ctx context.Context, eventID string, paymentID uuid.UUID, reason string) (bool, bool, error) {
	if s.admittedEvents[eventID] {
		return false, false, nil
	}
	s.admittedEvents[eventID] = true
	if domain.IsTerminal(s.payment.Status) {
		return true, false, nil
	}
	s.payment.Status = domain.StatusFailed
	s.failedReasons = append(s.failedReasons, reason)
	return true, true, nil
}

func (s *webhookRepoStub) MarkPaymentProcessing(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	if s.payment.Status != domain.StatusPending {
		return false, nil
	}
	s.payment.Status = domain.StatusProcessing
	return true, nil
}

func TestHandleRailEvent_RedeliveredEventIsDuplicate(t *testing.T) {
	repo := newWebhookRepoStub(confirmablePayment(domain.StatusPending))
	service := NewService(repo, &gatewayStub{}, "")

	ev := RailEvent{EventID: "evt_1", EventType: RailEventIntentCompleted, IntentID: "int_c1", CaptureID: "cap_9"}

	outcome, err := service.HandleRailEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected OutcomeProcessed, got %v", outcome)
	}

	outcome, err = service.HandleRailEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("expected OutcomeDuplicate, got %v", outcome)
	}
	if len(repo.completedFacts) != 1 {
		t.Fatalf("expected exactly one completion fact, got %d", len(repo.completedFacts))
	}
}

func TestHandleRailEvent_CompletionAfterConfirmIsIgnoredNotDuplicated(t *testing.T) {
	// The synchronous confirm already completed the payment; the webhook
	// carries a fresh event id but must not enqueue a second fact.
	repo := newWebhookRepoStub(confirmablePayment(domain.StatusCompleted))
	service := NewService(repo, &gatewayStub{}, "")

	outcome, err := service.HandleRailEvent(context.Background(), RailEvent{
		EventID:   "evt_late",
		EventType: RailEventIntentCompleted,
		IntentID:  "int_c1",
	})
	if err != nil {
		t.Fatalf("late webhook failed: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected OutcomeIgnored, got %v", outcome)
	}
	if len(repo.completedFacts) != 0 {
		t.Fatal("expected no fact for a transition that already happened")
	}
}

func TestHandleRailEvent_UnknownReferenceIsIgnored(t *testing.T) {
	repo := newWebhookRepoStub(nil)
	service := NewService(repo, &gatewayStub{}, "")

	outcome, err := service.HandleRailEvent(context.Background(), RailEvent{
		EventID:   "evt_unknown",
		EventType: RailEventIntentCompleted,
		IntentID:  "int_missing",
	})
	if err != nil {
		t.Fatalf("expected unknown reference to be dropped, got %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected OutcomeIgnored, got %v", outcome)
	}
}

func TestHandleRailEvent_MissingIdentifiersRejected(t *testing.T) {
	service := NewService(newWebhookRepoStub(nil), &gatewayStub{}, "")

	if _, err := service.HandleRailEvent(context.Background(), RailEvent{EventType: RailEventIntentCompleted}); err == nil {
		t.Fatal("expected an error for a rail event without identifiers")
	}
}

func TestHandleRailEvent_FailureEventRecordsReason(t *testing.T) {
	repo := newWebhookRepoStub(confirmablePayment(domain.StatusProcessing))
	service := NewService(repo, &gatewayStub{}, "")

	outcome, err := service.HandleRailEvent(context.Background(), RailEvent{
		EventID:       "evt_f1",
		EventType:     RailEventIntentFailed,
		IntentID:      "int_c1",
		FailureReason: "card expired",
	})
	if err != nil {
		t.Fatalf("failure event errored: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected OutcomeProcessed, got %v", outcome)
	}
	if len(repo.failedReasons) != 1 || repo.failedReasons[0] != "card expired" {
		t.Fatalf("expected the rail's failure reason, got %v", repo.failedReasons)
	}
	if repo.payment.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %q", repo.payment.Status)
	}
}

func TestHandleRailEvent_ProcessingEventIgnoredOffPending(t *testing.T) {
	repo := newWebhookRepoStub(confirmablePayment(domain.StatusCompleted))
	service := NewService(repo, &gatewayStub{}, "")

	outcome, err := service.HandleRailEvent(context.Background(), RailEvent{
		EventID:   "evt_p1",
		EventType: RailEventIntentProcessing,
		IntentID:  "int_c1",
	})
	if err != nil {
		t.Fatalf("processing event errored: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("expected OutcomeIgnored, got %v", outcome)
	}
	if repo.payment.Status != domain.StatusCompleted {
		t.Fatalf("completed must never be downgraded, got %q", repo.payment.Status)
	}
}
