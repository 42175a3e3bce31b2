/**
 * @description
 * Saga consumers for the booking-service. Completion facts materialize
 * bookings, refund facts compensate them, and account deletion facts cascade.
 * Every handler is idempotent against redelivery and returns true only after
 * its local write has committed.
 *
 * @notes
 * - Malformed payloads are parked in the dead letter table and acknowledged;
 *   redelivering them can never succeed.
 * - Handler failures are nacked for redelivery. Deliveries are counted per
 *   dedup key; a message that keeps failing past the attempt cap is parked
 *   and acknowledged so it cannot wedge the queue.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/booking/domain"
	"github.com/tripstack/booking-platform/internal/booking/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
)

const consumerTimeout = 15 * time.Second

// BookingReporter pushes a materialized booking's id back to the
// payment-service so refund facts for the payment can reference it.
type BookingReporter interface {
	ReportBooking(ctx context.Context, paymentID, bookingID uuid.UUID) error
}

// SagaConsumer handles the payment and account facts the booking-service
// subscribes to.
type SagaConsumer struct {
	repo        store.Repository
	reporter    BookingReporter
	maxAttempts int
}

// NewSagaConsumer creates the booking-side saga consumer. maxAttempts bounds
// redeliveries of a failing message before it is parked.
func NewSagaConsumer(repo store.Repository, maxAttempts int) *SagaConsumer {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &SagaConsumer{repo: repo, maxAttempts: maxAttempts}
}

// SetBookingReporter enables reporting materialized booking ids back to the
// payment-service.
func (c *SagaConsumer) SetBookingReporter(reporter BookingReporter) {
	c.reporter = reporter
}

// HandlePaymentCompleted materializes a booking from a payment.completed
// fact. The transaction id is the dedup key: a replayed fact finds its
// booking already present and is acknowledged without effect.
func (c *SagaConsumer) HandlePaymentCompleted(body []byte) bool {
	var event events.PaymentCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.park(events.RoutingKeyPaymentCompleted, "", body, fmt.Sprintf("malformed payload: %v", err))
		return true
	}
	if event.TransactionID == "" || event.PaymentID == uuid.Nil || event.OwnerID == uuid.Nil || event.Booking.TripID == uuid.Nil {
		c.park(events.RoutingKeyPaymentCompleted, event.TransactionID, body, "missing required fields")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	dedupKey := events.RoutingKeyPaymentCompleted + ":" + event.TransactionID
	exhausted, ok := c.guardAttempts(ctx, events.RoutingKeyPaymentCompleted, dedupKey, body)
	if !ok {
		return false
	}
	if exhausted {
		return true
	}

	participants := event.Booking.Participants
	if participants <= 0 {
		participants = 1
	}
	booking := &domain.Booking{
		ID:            uuid.New(),
		TravelerID:    event.OwnerID,
		TripID:        event.Booking.TripID,
		TravelerName:  event.Booking.TravelerName,
		Participants:  participants,
		Amount:        event.Amount,
		Currency:      event.Currency,
		PaymentID:     event.PaymentID,
		TransactionID: event.TransactionID,
	}

	created, overCapacity, err := c.repo.MaterializeBooking(ctx, booking)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateActiveBooking):
		// The traveler already holds an active booking on this trip under a
		// different payment. Park it for an operator; retrying cannot help.
		c.park(events.RoutingKeyPaymentCompleted, event.TransactionID, body, "traveler already active on trip")
		c.clearAttempts(dedupKey)
		return true
	default:
		log.Printf("level=error component=booking_saga msg=\"booking materialization failed; re-queuing\" transaction_id=%s err=%v", event.TransactionID, err)
		return false
	}

	if !created {
		log.Printf("level=info component=booking_saga msg=\"replayed completion fact; booking already exists\" transaction_id=%s", event.TransactionID)
		// Redelivery also retries the booking report in case the one from
		// the original delivery was lost.
		if existing, findErr := c.repo.FindBookingByTransactionID(ctx, event.TransactionID); findErr == nil {
			c.reportBooking(ctx, event.PaymentID, existing.ID)
		}
		c.clearAttempts(dedupKey)
		return true
	}

	if overCapacity {
		// The traveler paid, so the booking stands even though the trip is
		// full. Flagged for operators to resolve.
		log.Printf("level=warn component=booking_saga msg=\"booking honored over capacity\" booking_id=%s trip_id=%s participants=%d", booking.ID, booking.TripID, booking.Participants)
	} else {
		log.Printf("level=info component=booking_saga msg=\"booking materialized\" booking_id=%s trip_id=%s transaction_id=%s", booking.ID, booking.TripID, event.TransactionID)
	}
	c.reportBooking(ctx, event.PaymentID, booking.ID)

	c.clearAttempts(dedupKey)
	return true
}

// reportBooking is best effort: the booking is already committed, and a lost
// report is retried when the completion fact is redelivered.
func (c *SagaConsumer) reportBooking(ctx context.Context, paymentID, bookingID uuid.UUID) {
	if c.reporter == nil {
		return
	}
	if err := c.reporter.ReportBooking(ctx, paymentID, bookingID); err != nil {
		log.Printf("level=warn component=booking_saga msg=\"booking report to payment-service failed\" booking_id=%s payment_id=%s err=%v", bookingID, paymentID, err)
	}
}

// HandlePaymentRefunded cancels the booking paid for by a refunded payment.
// Compensation is not subject to the cancellation cutoff. Dedup key is the
// payment id: once the booking is no longer active, redeliveries are no-ops.
func (c *SagaConsumer) HandlePaymentRefunded(body []byte) bool {
	var event events.PaymentRefundedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.park(events.RoutingKeyPaymentRefunded, "", body, fmt.Sprintf("malformed payload: %v", err))
		return true
	}
	if event.PaymentID == uuid.Nil {
		c.park(events.RoutingKeyPaymentRefunded, "", body, "missing payment id")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	dedupKey := events.RoutingKeyPaymentRefunded + ":" + event.PaymentID.String()
	exhausted, ok := c.guardAttempts(ctx, events.RoutingKeyPaymentRefunded, dedupKey, body)
	if !ok {
		return false
	}
	if exhausted {
		return true
	}

	booking, err := c.repo.FindActiveBookingByPaymentID(ctx, event.PaymentID)
	if err != nil {
		if errors.Is(err, store.ErrBookingNotFound) {
			// Already compensated, or the booking never materialized.
			log.Printf("level=info component=booking_saga msg=\"refund fact with no active booking\" payment_id=%s", event.PaymentID)
			c.clearAttempts(dedupKey)
			return true
		}
		log.Printf("level=error component=booking_saga msg=\"refund lookup failed; re-queuing\" payment_id=%s err=%v", event.PaymentID, err)
		return false
	}

	applied, err := c.repo.CancelBookingAndReleaseCapacity(ctx, booking.ID)
	if err != nil {
		log.Printf("level=error component=booking_saga msg=\"refund compensation failed; re-queuing\" booking_id=%s err=%v", booking.ID, err)
		return false
	}
	if applied {
		log.Printf("level=info component=booking_saga msg=\"booking compensated after refund\" booking_id=%s payment_id=%s", booking.ID, event.PaymentID)
	}

	c.clearAttempts(dedupKey)
	return true
}

// HandleAccountDeleted performs the booking-side cascade for a deleted user
// account, releasing the seats their active bookings held.
func (c *SagaConsumer) HandleAccountDeleted(body []byte) bool {
	var event events.AccountDeletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=booking_cascade msg=\"malformed account.deleted payload; dropping\" err=%v", err)
		return true
	}
	if event.UserID == uuid.Nil {
		log.Printf("level=warn component=booking_cascade msg=\"account.deleted missing user id; dropping\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	removed, err := c.repo.DeleteBookingsByTraveler(ctx, event.UserID)
	if err != nil {
		log.Printf("level=error component=booking_cascade msg=\"cascade delete failed; re-queuing\" user_id=%s err=%v", event.UserID, err)
		return false
	}

	// Zero rows is fine: nothing to delete, or a redelivered fact. A booking
	// materialized after this point is removed when the fact is redelivered.
	log.Printf("level=info component=booking_cascade msg=\"cascade delete applied\" user_id=%s bookings_removed=%d", event.UserID, removed)
	return true
}

// guardAttempts counts this delivery and parks the message once the attempt
// cap is exceeded. Returns exhausted == true when the message was parked and
// should be acknowledged, ok == false when the counter itself failed and the
// message should be nacked.
func (c *SagaConsumer) guardAttempts(ctx context.Context, routingKey, dedupKey string, body []byte) (exhausted bool, ok bool) {
	attempts, err := c.repo.RecordConsumerAttempt(ctx, dedupKey)
	if err != nil {
		log.Printf("level=error component=booking_saga msg=\"attempt tracking failed; re-queuing\" dedup_key=%s err=%v", dedupKey, err)
		return false, false
	}
	if attempts > c.maxAttempts {
		c.park(routingKey, dedupKey, body, fmt.Sprintf("exceeded %d delivery attempts", c.maxAttempts))
		c.clearAttempts(dedupKey)
		return true, true
	}
	return false, true
}

func (c *SagaConsumer) park(routingKey, dedupKey string, body []byte, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()
	if err := c.repo.ParkDeadLetter(ctx, routingKey, dedupKey, body, reason); err != nil {
		// Parking is best effort; the message is still acknowledged, the
		// payload survives in the broker's own logs if parking fails.
		log.Printf("level=error component=booking_saga msg=\"dead letter parking failed\" routing_key=%s reason=%q err=%v", routingKey, reason, err)
		return
	}
	log.Printf("level=warn component=booking_saga msg=\"message parked in dead letters\" routing_key=%s reason=%q", routingKey, reason)
}

func (c *SagaConsumer) clearAttempts(dedupKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()
	if err := c.repo.ClearConsumerAttempts(ctx, dedupKey); err != nil {
		log.Printf("level=warn component=booking_saga msg=\"attempt counter cleanup failed\" dedup_key=%s err=%v", dedupKey, err)
	}
}
