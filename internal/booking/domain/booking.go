/**
 * @description
 * This package defines the core domain models for the booking-service:
 * bookings materialized from payment completion facts, and the trips they
 * reserve seats on.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Booking status constants.
const (
	BookingStatusActive    = "active"
	BookingStatusCancelled = "cancelled"
	BookingStatusCompleted = "completed"
)

// CancellationCutoffDays is how many days before trip departure a traveler
// may still cancel. Refund-driven compensation is not subject to it.
const CancellationCutoffDays = 7

// Booking represents a confirmed seat reservation on a trip. A booking only
// comes into existence once its payment has completed; the transaction id of
// that payment is unique per booking and makes fact replay harmless.
type Booking struct {
	ID            uuid.UUID `json:"id"`
	TravelerID    uuid.UUID `json:"traveler_id"`
	TripID        uuid.UUID `json:"trip_id"`
	TravelerName  string    `json:"traveler_name"`
	Participants  int       `json:"participants"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	PaymentID     uuid.UUID `json:"payment_id"`
	TransactionID string    `json:"transaction_id"`
	// OverCapacity marks a booking that was honored even though the trip was
	// already full when its completion fact arrived.
	OverCapacity bool       `json:"over_capacity"`
	CreatedAt    time.Time  `json:"created_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// Trip represents a scheduled travel offering with a fixed seat capacity.
type Trip struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Destination  string    `json:"destination"`
	StartDate    time.Time `json:"start_date"`
	PricePerSeat int64     `json:"price_per_seat"`
	Currency     string    `json:"currency"`
	Capacity     int       `json:"capacity"`
	BookedCount  int       `json:"booked_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// CancellationOpen reports whether a traveler-initiated cancellation is still
// allowed for a trip starting at startDate, evaluated at now.
func CancellationOpen(startDate, now time.Time) bool {
	cutoff := startDate.AddDate(0, 0, -CancellationCutoffDays)
	return now.Before(cutoff)
}
