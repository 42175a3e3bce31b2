package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/booking/domain"
	"github.com/tripstack/booking-platform/internal/booking/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
)

type sagaRepoStub struct {
	store.Repository

	bookingsByTx      map[string]*domain.Booking
	activeByPaymentID map[uuid.UUID]*domain.Booking
	tripFull          bool
	materializeErr    error

	cancelled       []uuid.UUID
	cancelErr       error
	deletedTraveler *uuid.UUID
	deletedCount    int64
	deleteErr       error

	attempts    map[string]int
	deadLetters []string
}

func newSagaRepoStub() *sagaRepoStub {
	return &sagaRepoStub{
		bookingsByTx:      map[string]*domain.Booking{},
		activeByPaymentID: map[uuid.UUID]*domain.Booking{},
		attempts:          map[string]int{},
	}
}

func (s *sagaRepoStub) MaterializeBooking(ctx context.Context, b *domain.Booking) (bool, bool, error) {
	if s.materializeErr != nil {
		return false, false, s.materializeErr
	}
	if _, exists := s.bookingsByTx[b.TransactionID]; exists {
		return false, false, nil
	}
	b.OverCapacity = s.tripFull
	s.bookingsByTx[b.TransactionID] = b
	s.activeByPaymentID[b.PaymentID] = b
	return true, s.tripFull, nil
}

func (s *sagaRepoStub) FindBookingByTransactionID(ctx context.Context, transactionID string) (*domain.Booking, error) {
	b, ok := s.bookingsByTx[transactionID]
	if !ok {
		return nil, store.ErrBookingNotFound
	}
	return b, nil
}

func (s *sagaRepoStub) FindActiveBookingByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Booking, error) {
	b, ok := s.activeByPaymentID[paymentID]
	if !ok {
		return nil, store.ErrBookingNotFound
	}
	return b, nil
}

func (s *sagaRepoStub) CancelBookingAndReleaseCapacity(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	if s.cancelErr != nil {
		return false, s.cancelErr
	}
	s.cancelled = append(s.cancelled, bookingID)
	for paymentID, b := range s.activeByPaymentID {
		if b.ID == bookingID {
			b.Status = domain.BookingStatusCancelled
			delete(s.activeByPaymentID, paymentID)
			return true, nil
		}
	}
	return false, nil
}

func (s *sagaRepoStub) DeleteBookingsByTraveler(ctx context.Context, travelerID uuid.UUID) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deletedTraveler = &travelerID
	return s.deletedCount, nil
}

func (s *sagaRepoStub) RecordConsumerAttempt(ctx context.Context, dedupKey string) (int, error) {
	s.attempts[dedupKey]++
	return s.attempts[dedupKey], nil
}

func (s *sagaRepoStub) ClearConsumerAttempts(ctx context.Context, dedupKey string) error {
	delete(s.attempts, dedupKey)
	return nil
}

func (s *sagaRepoStub) ParkDeadLetter(ctx context.Context, routingKey, dedupKey string, payload []byte, reason string) error {
	s.deadLetters = append(s.deadLetters, reason)
	return nil
}

type reporterStub struct {
	reports map[uuid.UUID]uuid.UUID
	calls   int
	err     error
}

func newReporterStub() *reporterStub {
	return &reporterStub{reports: map[uuid.UUID]uuid.UUID{}}
}

func (r *reporterStub) ReportBooking(ctx context.Context, paymentID, bookingID uuid.UUID) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.reports[paymentID] = bookingID
	return nil
}

func completionFactBody(t *testing.T, txID string) []byte {
	t.Helper()
	body, err := json.Marshal(events.PaymentCompletedEvent{
		PaymentID:     uuid.New(),
		OwnerID:       uuid.New(),
		TripID:        uuid.New(),
		TransactionID: txID,
		Amount:        42000,
		Currency:      "USD",
		CompletedAt:   time.Now().UTC(),
		Booking: events.BookingPayload{
			TripID:       uuid.New(),
			Participants: 3,
			TravelerName: "Grace Traveler",
		},
	})
	if err != nil {
		t.Fatalf("marshal fact: %v", err)
	}
	return body
}

func TestHandlePaymentCompleted_ReplayProducesExactlyOneBooking(t *testing.T) {
	repo := newSagaRepoStub()
	consumer := NewSagaConsumer(repo, 5)
	body := completionFactBody(t, "cap_replay")

	for i := 0; i < 3; i++ {
		if !consumer.HandlePaymentCompleted(body) {
			t.Fatalf("delivery %d: expected ack", i)
		}
	}

	if len(repo.bookingsByTx) != 1 {
		t.Fatalf("expected exactly one booking, got %d", len(repo.bookingsByTx))
	}
	booking := repo.bookingsByTx["cap_replay"]
	if booking.Participants != 3 {
		t.Fatalf("expected the fact's participant count, got %d", booking.Participants)
	}
	if len(repo.attempts) != 0 {
		t.Fatal("expected attempt counters to be cleared after success")
	}
}

func TestHandlePaymentCompleted_OverCapacityBookingIsHonoredAndFlagged(t *testing.T) {
	repo := newSagaRepoStub()
	repo.tripFull = true
	consumer := NewSagaConsumer(repo, 5)

	if !consumer.HandlePaymentCompleted(completionFactBody(t, "cap_full")) {
		t.Fatal("expected the paid booking to be honored")
	}
	booking := repo.bookingsByTx["cap_full"]
	if booking == nil {
		t.Fatal("expected the booking to be created despite full capacity")
	}
	if !booking.OverCapacity {
		t.Fatal("expected the over-capacity flag")
	}
}

func TestHandlePaymentCompleted_MalformedPayloadParkedAndAcked(t *testing.T) {
	repo := newSagaRepoStub()
	consumer := NewSagaConsumer(repo, 5)

	if !consumer.HandlePaymentCompleted([]byte("not json")) {
		t.Fatal("malformed payloads must be acked; redelivery cannot fix them")
	}
	if len(repo.deadLetters) != 1 {
		t.Fatalf("expected the payload to be parked, got %v", repo.deadLetters)
	}
	if len(repo.bookingsByTx) != 0 {
		t.Fatal("expected no booking from a malformed payload")
	}
}

func TestHandlePaymentCompleted_StoreFailureRequeuesUntilCapThenParks(t *testing.T) {
	repo := newSagaRepoStub()
	repo.materializeErr = errors.New("connection reset")
	consumer := NewSagaConsumer(repo, 2)
	body := completionFactBody(t, "cap_poison")

	// Attempts within the cap nack for broker redelivery.
	for i := 0; i < 2; i++ {
		if consumer.HandlePaymentCompleted(body) {
			t.Fatalf("delivery %d: expected nack while under the attempt cap", i)
		}
	}
	// The next delivery exceeds the cap: parked and acked.
	if !consumer.HandlePaymentCompleted(body) {
		t.Fatal("expected the poison message to be parked and acked")
	}
	if len(repo.deadLetters) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(repo.deadLetters))
	}
}

func TestHandlePaymentRefunded_CancelsActiveBookingBypassingCutoff(t *testing.T) {
	repo := newSagaRepoStub()
	consumer := NewSagaConsumer(repo, 5)

	// Materialize first so there is something to compensate.
	var fact events.PaymentCompletedEvent
	body := completionFactBody(t, "cap_refund")
	_ = json.Unmarshal(body, &fact)
	if !consumer.HandlePaymentCompleted(body) {
		t.Fatal("setup: completion fact should ack")
	}

	refundBody, _ := json.Marshal(events.PaymentRefundedEvent{
		PaymentID:     fact.PaymentID,
		OwnerID:       fact.OwnerID,
		TransactionID: "cap_refund",
		Amount:        42000,
		RefundedAt:    time.Now().UTC(),
	})

	if !consumer.HandlePaymentRefunded(refundBody) {
		t.Fatal("expected the refund fact to ack")
	}
	if len(repo.cancelled) != 1 {
		t.Fatalf("expected one compensation, got %d", len(repo.cancelled))
	}
	booking := repo.bookingsByTx["cap_refund"]
	if booking.Status != domain.BookingStatusCancelled {
		t.Fatalf("expected cancelled, got %q", booking.Status)
	}

	// Redelivery: the booking is no longer active, nothing to do.
	if !consumer.HandlePaymentRefunded(refundBody) {
		t.Fatal("expected the redelivered refund fact to ack")
	}
	if len(repo.cancelled) != 1 {
		t.Fatal("expected no second compensation on redelivery")
	}
}

func TestHandlePaymentRefunded_NoActiveBookingIsNoOp(t *testing.T) {
	repo := newSagaRepoStub()
	consumer := NewSagaConsumer(repo, 5)

	body, _ := json.Marshal(events.PaymentRefundedEvent{PaymentID: uuid.New()})
	if !consumer.HandlePaymentRefunded(body) {
		t.Fatal("a refund with no booking to compensate must ack")
	}
	if len(repo.cancelled) != 0 {
		t.Fatal("expected no cancellation")
	}
}

func TestHandleAccountDeleted_CascadeIsIdempotent(t *testing.T) {
	repo := newSagaRepoStub()
	repo.deletedCount = 2
	consumer := NewSagaConsumer(repo, 5)

	userID := uuid.New()
	body, _ := json.Marshal(events.AccountDeletedEvent{UserID: userID, DeletedAt: time.Now().UTC()})

	if !consumer.HandleAccountDeleted(body) {
		t.Fatal("expected the cascade to ack")
	}
	if repo.deletedTraveler == nil || *repo.deletedTraveler != userID {
		t.Fatal("expected the traveler's bookings to be deleted")
	}

	// Redelivery with nothing left converges quietly.
	repo.deletedCount = 0
	if !consumer.HandleAccountDeleted(body) {
		t.Fatal("expected the redelivered cascade to ack")
	}
}

func TestHandleAccountDeleted_StoreFailureRequeues(t *testing.T) {
	repo := newSagaRepoStub()
	repo.deleteErr = errors.New("connection reset")
	consumer := NewSagaConsumer(repo, 5)

	body, _ := json.Marshal(events.AccountDeletedEvent{UserID: uuid.New()})
	if consumer.HandleAccountDeleted(body) {
		t.Fatal("expected a nack so the broker redelivers")
	}
}

func TestHandlePaymentCompleted_ReportsBookingToPaymentService(t *testing.T) {
	repo := newSagaRepoStub()
	reporter := newReporterStub()
	consumer := NewSagaConsumer(repo, 5)
	consumer.SetBookingReporter(reporter)

	var fact events.PaymentCompletedEvent
	body := completionFactBody(t, "cap_report")
	_ = json.Unmarshal(body, &fact)

	if !consumer.HandlePaymentCompleted(body) {
		t.Fatal("expected the completion fact to ack")
	}
	booking := repo.bookingsByTx["cap_report"]
	if got, ok := reporter.reports[fact.PaymentID]; !ok || got != booking.ID {
		t.Fatalf("expected the materialized booking id to be reported, got %v", reporter.reports)
	}
}

func TestHandlePaymentCompleted_RedeliveryRetriesLostBookingReport(t *testing.T) {
	repo := newSagaRepoStub()
	reporter := newReporterStub()
	reporter.err = errors.New("payment-service unreachable")
	consumer := NewSagaConsumer(repo, 5)
	consumer.SetBookingReporter(reporter)

	var fact events.PaymentCompletedEvent
	body := completionFactBody(t, "cap_rereport")
	_ = json.Unmarshal(body, &fact)

	// The report fails but the committed booking is still acked.
	if !consumer.HandlePaymentCompleted(body) {
		t.Fatal("a failed report must not nack a committed booking")
	}
	if len(reporter.reports) != 0 {
		t.Fatal("expected no recorded report while the payment-service is down")
	}

	// Redelivery finds the existing booking and retries the report.
	reporter.err = nil
	if !consumer.HandlePaymentCompleted(body) {
		t.Fatal("expected the replayed fact to ack")
	}
	booking := repo.bookingsByTx["cap_rereport"]
	if got, ok := reporter.reports[fact.PaymentID]; !ok || got != booking.ID {
		t.Fatalf("expected the replay to re-report the existing booking, got %v", reporter.reports)
	}
	if len(repo.bookingsByTx) != 1 {
		t.Fatalf("expected exactly one booking, got %d", len(repo.bookingsByTx))
	}
}

func TestHandlePaymentCompleted_DuplicateActiveBookingParked(t *testing.T) {
	repo := newSagaRepoStub()
	consumer := NewSagaConsumer(repo, 5)

	first := completionFactBody(t, "cap_dup_a")
	if !consumer.HandlePaymentCompleted(first) {
		t.Fatal("setup: first booking should ack")
	}

	repo.materializeErr = store.ErrDuplicateActiveBooking
	second := completionFactBody(t, "cap_dup_b")
	if !consumer.HandlePaymentCompleted(second) {
		t.Fatal("a constraint violation must be parked and acked, not retried")
	}
	if len(repo.deadLetters) != 1 {
		t.Fatalf("expected the conflicting fact to be parked, got %d dead letters", len(repo.deadLetters))
	}
}
