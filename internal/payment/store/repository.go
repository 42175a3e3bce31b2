/**
 * @description
 * This file defines the `Repository` interface for the payment-service data
 * access layer. The application layer depends on this contract rather than a
 * concrete database, which keeps the state machine testable with stubs.
 *
 * @notes
 * - Status transitions are compare-and-set operations: each Mark/Complete
 *   method only applies when the payment is in an allowed prior state and
 *   reports whether it won the transition. Losers observe `applied == false`
 *   and must treat an already-terminal payment as success, not an error.
 * - CompletePaymentViaWebhook combines the webhook-event admit, the status
 *   transition, and the outbox enqueue in a single database transaction so a
 *   crash between admit and transition cannot strand the payment.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/platform/events"
)

var (
	// ErrPaymentNotFound is returned when no payment matches the lookup.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateRailReference is returned when an external reference is
	// already attached to another payment.
	ErrDuplicateRailReference = errors.New("rail reference already recorded")
)

// OutboxMessage is one durably recorded fact awaiting publication.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// RailReferences carries the external identifiers returned by the rail for
// an intent. Nil fields are left untouched.
type RailReferences struct {
	SessionID *string
	IntentID  *string
	CaptureID *string
	Fee       *int64
}

// Repository defines the set of methods for interacting with the payment database.
type Repository interface {
	// Payment lookups
	CreatePayment(ctx context.Context, p *domain.Payment) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindPaymentByRailReference(ctx context.Context, ref string) (*domain.Payment, error)
	FindPaymentByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*domain.Payment, error)
	FindOpenPendingPayment(ctx context.Context, ownerID, tripID uuid.UUID) (*domain.Payment, error)
	ListPaymentsByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Payment, error)
	ListStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Payment, error)

	// Rail reference bookkeeping
	SetRailReferences(ctx context.Context, paymentID uuid.UUID, refs RailReferences) error

	// Status transitions (compare-and-set)
	MarkPaymentProcessing(ctx context.Context, paymentID uuid.UUID) (applied bool, err error)
	FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (applied bool, err error)
	CancelPayment(ctx context.Context, paymentID uuid.UUID) (applied bool, err error)
	CompletePaymentAndEnqueueFact(ctx context.Context, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (applied bool, err error)
	CompletePaymentViaWebhook(ctx context.Context, eventID string, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (admitted bool, applied bool, err error)
	FailPaymentViaWebhook(ctx context.Context, eventID string, paymentID uuid.UUID, reason string) (admitted bool, applied bool, err error)
	RefundPaymentAndEnqueueFact(ctx context.Context, paymentID uuid.UUID, fact events.PaymentRefundedEvent) (applied bool, err error)
	SetPaymentBookingID(ctx context.Context, paymentID, bookingID uuid.UUID) error

	// Webhook-event dedup retention
	DeleteWebhookEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Account-deletion cascade
	DeletePaymentsByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)

	// Outbox
	ClaimOutboxMessages(ctx context.Context, batchSize, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, lastError string) error
	DeletePublishedOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
