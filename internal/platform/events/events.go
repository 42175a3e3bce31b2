/**
 * @description
 * This package defines the durable event contracts exchanged between the
 * payment-service and the booking-service over RabbitMQ. Every event here is
 * append-only and delivered at least once; consumers are responsible for
 * deduplicating by the keys documented on each type.
 *
 * @notes
 * - PaymentCompletedEvent is deduplicated by TransactionID.
 * - PaymentRefundedEvent is deduplicated by PaymentID.
 * - AccountDeletedEvent is deduplicated by UserID + DeletedAt.
 */
package events

import (
	"time"

	"github.com/google/uuid"
)

// Exchange is the topic exchange all booking-platform events flow through.
const Exchange = "tripstack.events"

// Routing keys for the event bus.
const (
	RoutingKeyPaymentCompleted = "payment.completed"
	RoutingKeyPaymentRefunded  = "payment.refunded"
	RoutingKeyAccountDeleted   = "account.deleted"
)

// BookingPayload is the opaque data a completed payment carries so the
// booking-service can materialize a booking without calling back into the
// payment-service.
type BookingPayload struct {
	TripID       uuid.UUID `json:"trip_id"`
	Participants int       `json:"participants"`
	TravelerName string    `json:"traveler_name"`
}

// PaymentCompletedEvent is published when a payment reaches the completed
// state. It carries everything needed to create the booking.
type PaymentCompletedEvent struct {
	PaymentID     uuid.UUID      `json:"payment_id"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	TripID        uuid.UUID      `json:"trip_id"`
	TransactionID string         `json:"transaction_id"`
	Amount        int64          `json:"amount"` // in minor units
	Currency      string         `json:"currency"`
	CompletedAt   time.Time      `json:"completed_at"`
	Booking       BookingPayload `json:"booking"`
}

// PaymentRefundedEvent is published when a payment reaches the refunded
// state. The booking-service reacts by cancelling the linked booking.
type PaymentRefundedEvent struct {
	PaymentID     uuid.UUID  `json:"payment_id"`
	OwnerID       uuid.UUID  `json:"owner_id"`
	TripID        uuid.UUID  `json:"trip_id"`
	BookingID     *uuid.UUID `json:"booking_id,omitempty"`
	TransactionID string     `json:"transaction_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	RefundedAt    time.Time  `json:"refunded_at"`
}

// AccountDeletedEvent is published when a user account is removed. Every
// owning service performs its own local cascade when it consumes this.
type AccountDeletedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	ActorID   uuid.UUID `json:"actor_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
