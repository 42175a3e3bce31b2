/**
 * @description
 * Application service for the booking-service HTTP surface: traveler booking
 * queries, traveler-initiated cancellation with the cutoff rule, and trip
 * management.
 *
 * @notes
 * - Traveler cancellation of a paid booking releases the seats locally and
 *   then asks the payment-service for a refund. The refund call is best
 *   effort: if it fails the money side is reconciled by an operator refund,
 *   and the refund fact that eventually arrives finds the booking already
 *   cancelled and is a no-op.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/booking/domain"
	"github.com/tripstack/booking-platform/internal/booking/store"
	"github.com/tripstack/booking-platform/internal/platform/authctx"
)

var (
	// ErrInvalidInput marks a request the service refused to act on.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden marks an action the actor may not perform.
	ErrForbidden = errors.New("forbidden")
	// ErrCutoffPassed marks a traveler cancellation attempted after the
	// cancellation window closed.
	ErrCutoffPassed = errors.New("cancellation window has closed")
	// ErrAlreadyCancelled marks a booking that is no longer active.
	ErrAlreadyCancelled = errors.New("booking is not active")
)

// PaymentRefunder requests a refund for a payment from the payment-service.
type PaymentRefunder interface {
	RequestRefund(ctx context.Context, paymentID uuid.UUID) error
}

// Service implements the booking-service operations.
type Service struct {
	repo     store.Repository
	refunder PaymentRefunder
	now      func() time.Time
}

// NewService creates the booking application service. refunder may be nil
// when the payment-service is unreachable by configuration; cancellations
// then release seats without triggering a refund.
func NewService(repo store.Repository, refunder PaymentRefunder) *Service {
	return &Service{repo: repo, refunder: refunder, now: time.Now}
}

// CreateTrip registers a new trip. Internal/admin only.
func (s *Service) CreateTrip(ctx context.Context, actor authctx.Actor, t *domain.Trip) (*domain.Trip, error) {
	if !actor.IsAdmin() && !actor.IsInternal() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(t.Title) == "" {
		return nil, fmt.Errorf("%w: trip title is required", ErrInvalidInput)
	}
	if t.Capacity <= 0 {
		return nil, fmt.Errorf("%w: trip capacity must be positive", ErrInvalidInput)
	}
	if t.PricePerSeat < 0 {
		return nil, fmt.Errorf("%w: price per seat cannot be negative", ErrInvalidInput)
	}
	if t.StartDate.Before(s.now()) {
		return nil, fmt.Errorf("%w: trip start date must be in the future", ErrInvalidInput)
	}
	if t.Currency == "" {
		t.Currency = "USD"
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if err := s.repo.CreateTrip(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTrip returns one trip.
func (s *Service) GetTrip(ctx context.Context, tripID uuid.UUID) (*domain.Trip, error) {
	return s.repo.FindTripByID(ctx, tripID)
}

// ListTrips returns upcoming trips.
func (s *Service) ListTrips(ctx context.Context, limit, offset int) ([]domain.Trip, error) {
	return s.repo.ListTrips(ctx, limit, offset)
}

// GetBooking returns one booking. Travelers see only their own; admins and
// internal callers see any.
func (s *Service) GetBooking(ctx context.Context, actor authctx.Actor, bookingID uuid.UUID) (*domain.Booking, error) {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(booking.TravelerID) && !actor.IsAdmin() && !actor.IsInternal() {
		return nil, ErrForbidden
	}
	return booking, nil
}

// ListBookings returns the caller's bookings, newest first.
func (s *Service) ListBookings(ctx context.Context, actor authctx.Actor, limit, offset int) ([]domain.Booking, error) {
	return s.repo.ListBookingsByTraveler(ctx, actor.UserID, limit, offset)
}

// CancelBooking performs a traveler-initiated cancellation. The cutoff rule
// applies: once the trip is fewer than the cutoff days away the traveler can
// no longer cancel, and only a refund performed by support releases the seat.
func (s *Service) CancelBooking(ctx context.Context, actor authctx.Actor, bookingID uuid.UUID) (*domain.Booking, error) {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(booking.TravelerID) && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if booking.Status != domain.BookingStatusActive {
		return nil, ErrAlreadyCancelled
	}

	trip, err := s.repo.FindTripByID(ctx, booking.TripID)
	if err != nil {
		return nil, err
	}
	if !domain.CancellationOpen(trip.StartDate, s.now()) {
		return nil, ErrCutoffPassed
	}

	applied, err := s.repo.CancelBookingAndReleaseCapacity(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race with a refund fact or cascade; the booking is already
		// out of active, which is what the traveler wanted.
		return s.repo.FindBookingByID(ctx, bookingID)
	}

	if s.refunder != nil {
		if err := s.refunder.RequestRefund(ctx, booking.PaymentID); err != nil {
			log.Printf("level=error component=booking_service msg=\"refund request failed after cancellation\" booking_id=%s payment_id=%s err=%v", booking.ID, booking.PaymentID, err)
		}
	}

	return s.repo.FindBookingByID(ctx, bookingID)
}
