/**
 * @description
 * This file defines the `Repository` interface for the booking-service data
 * access layer. Consumers and the HTTP API depend on this contract rather
 * than a concrete database, which keeps the saga handlers testable with
 * stubs.
 *
 * @notes
 * - MaterializeBooking is the exactly-once gate for completion facts: the
 *   booking insert and the capacity increment happen in one transaction, and
 *   a transaction id that already exists reports `created == false` instead
 *   of an error so redeliveries stay harmless.
 * - Cancellation methods are compare-and-set: they only apply when the
 *   booking is still active and report whether they won, so refund facts and
 *   user cancellations can race without double-releasing capacity.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/booking/domain"
)

var (
	// ErrBookingNotFound is returned when no booking matches the lookup.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrTripNotFound is returned when no trip matches the lookup.
	ErrTripNotFound = errors.New("trip not found")
	// ErrDuplicateActiveBooking is returned when the traveler already holds
	// an active booking on the trip under a different transaction.
	ErrDuplicateActiveBooking = errors.New("traveler already has an active booking for this trip")
)

// Repository defines the set of methods for interacting with the booking database.
type Repository interface {
	// Trips
	CreateTrip(ctx context.Context, t *domain.Trip) error
	FindTripByID(ctx context.Context, id uuid.UUID) (*domain.Trip, error)
	ListTrips(ctx context.Context, limit, offset int) ([]domain.Trip, error)

	// Booking lookups
	FindBookingByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindBookingByTransactionID(ctx context.Context, transactionID string) (*domain.Booking, error)
	FindActiveBookingByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Booking, error)
	ListBookingsByTraveler(ctx context.Context, travelerID uuid.UUID, limit, offset int) ([]domain.Booking, error)

	// Saga materialization and compensation
	MaterializeBooking(ctx context.Context, b *domain.Booking) (created bool, overCapacity bool, err error)
	CancelBookingAndReleaseCapacity(ctx context.Context, bookingID uuid.UUID) (applied bool, err error)

	// Account-deletion cascade
	DeleteBookingsByTraveler(ctx context.Context, travelerID uuid.UUID) (int64, error)

	// Poison-message bookkeeping
	RecordConsumerAttempt(ctx context.Context, dedupKey string) (attempts int, err error)
	ClearConsumerAttempts(ctx context.Context, dedupKey string) error
	ParkDeadLetter(ctx context.Context, routingKey, dedupKey string, payload []byte, reason string) error
	DeleteDeadLettersBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteConsumerAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
