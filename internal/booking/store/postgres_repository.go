/**
 * @description
 * PostgreSQL implementation of the booking-service Repository. Materialization
 * and compensation run their booking write and the trip capacity adjustment in
 * one transaction so a crash cannot leave seats counted without a booking or
 * vice versa.
 *
 * Tables:
 *   trips(id uuid pk, title, destination, start_date, price_per_seat,
 *     currency, capacity, booked_count, created_at)
 *   bookings(id uuid pk, traveler_id, trip_id fk, traveler_name,
 *     participants, amount, currency, status active|cancelled|completed,
 *     payment_id, transaction_id unique, over_capacity, created_at,
 *     cancelled_at, unique(traveler_id, trip_id) where status = 'active')
 *   consumer_attempts(dedup_key text pk, attempts, last_attempt_at)
 *   dead_letters(id bigserial pk, routing_key, dedup_key, payload text,
 *     reason, parked_at)
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and transaction support.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripstack/booking-platform/internal/booking/domain"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const bookingColumns = `
	id, traveler_id, trip_id, traveler_name, participants, amount, currency,
	status, payment_id, transaction_id, over_capacity, created_at, cancelled_at`

const tripColumns = `
	id, title, destination, start_date, price_per_seat, currency, capacity,
	booked_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.TravelerID, &b.TripID, &b.TravelerName, &b.Participants,
		&b.Amount, &b.Currency, &b.Status, &b.PaymentID, &b.TransactionID,
		&b.OverCapacity, &b.CreatedAt, &b.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanTrip(row rowScanner) (*domain.Trip, error) {
	var t domain.Trip
	err := row.Scan(
		&t.ID, &t.Title, &t.Destination, &t.StartDate, &t.PricePerSeat,
		&t.Currency, &t.Capacity, &t.BookedCount, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTrip inserts a new trip.
func (r *PostgresRepository) CreateTrip(ctx context.Context, t *domain.Trip) error {
	query := `
		INSERT INTO trips (id, title, destination, start_date, price_per_seat, currency, capacity, booked_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		t.ID, t.Title, t.Destination, t.StartDate, t.PricePerSeat, t.Currency, t.Capacity,
	).Scan(&t.CreatedAt)
}

// FindTripByID returns the trip with the given id.
func (r *PostgresRepository) FindTripByID(ctx context.Context, id uuid.UUID) (*domain.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	return scanTrip(r.db.QueryRow(ctx, query, id))
}

// ListTrips returns trips ordered by start date.
func (r *PostgresRepository) ListTrips(ctx context.Context, limit, offset int) ([]domain.Trip, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + tripColumns + ` FROM trips ORDER BY start_date ASC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

// FindBookingByID returns the booking with the given id.
func (r *PostgresRepository) FindBookingByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(r.db.QueryRow(ctx, query, id))
}

// FindBookingByTransactionID returns the booking materialized from the given
// payment transaction, if any.
func (r *PostgresRepository) FindBookingByTransactionID(ctx context.Context, transactionID string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE transaction_id = $1`
	return scanBooking(r.db.QueryRow(ctx, query, transactionID))
}

// FindActiveBookingByPaymentID returns the active booking paid for by the
// given payment, used by refund compensation.
func (r *PostgresRepository) FindActiveBookingByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE payment_id = $1 AND status = 'active'
		LIMIT 1
	`
	return scanBooking(r.db.QueryRow(ctx, query, paymentID))
}

// ListBookingsByTraveler returns the traveler's bookings, newest first.
func (r *PostgresRepository) ListBookingsByTraveler(ctx context.Context, travelerID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE traveler_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, travelerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// MaterializeBooking creates an active booking from a completion fact and
// increments the trip's booked count, in one transaction. A transaction id
// already present reports created == false with no effect. When the trip is
// already full the booking is still created but flagged over-capacity.
func (r *PostgresRepository) MaterializeBooking(ctx context.Context, b *domain.Booking) (bool, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback(ctx)

	// Lock the trip row so the capacity read and increment are atomic across
	// concurrent fact deliveries.
	var capacity, bookedCount int
	err = tx.QueryRow(ctx,
		`SELECT capacity, booked_count FROM trips WHERE id = $1 FOR UPDATE`,
		b.TripID,
	).Scan(&capacity, &bookedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, ErrTripNotFound
		}
		return false, false, err
	}

	overCapacity := bookedCount+b.Participants > capacity
	b.OverCapacity = overCapacity
	b.Status = domain.BookingStatusActive

	tag, err := tx.Exec(ctx,
		`INSERT INTO bookings (
			id, traveler_id, trip_id, traveler_name, participants, amount,
			currency, status, payment_id, transaction_id, over_capacity
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (transaction_id) DO NOTHING`,
		b.ID, b.TravelerID, b.TripID, b.TravelerName, b.Participants,
		b.Amount, b.Currency, b.Status, b.PaymentID, b.TransactionID, b.OverCapacity,
	)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, false, ErrDuplicateActiveBooking
		}
		return false, false, err
	}
	if tag.RowsAffected() == 0 {
		// Replayed fact; the booking already exists.
		return false, false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE trips SET booked_count = booked_count + $2 WHERE id = $1`,
		b.TripID, b.Participants,
	)
	if err != nil {
		return false, false, err
	}
	return true, overCapacity, tx.Commit(ctx)
}

// CancelBookingAndReleaseCapacity flips an active booking to cancelled and
// returns its seats to the trip, in one transaction. Returns false when the
// booking already left active; callers treat that as an idempotent no-op.
func (r *PostgresRepository) CancelBookingAndReleaseCapacity(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var tripID uuid.UUID
	var participants int
	err = tx.QueryRow(ctx,
		`UPDATE bookings SET status = 'cancelled', cancelled_at = NOW()
		 WHERE id = $1 AND status = 'active'
		 RETURNING trip_id, participants`,
		bookingID,
	).Scan(&tripID, &participants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE trips SET booked_count = GREATEST(booked_count - $2, 0) WHERE id = $1`,
		tripID, participants,
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// DeleteBookingsByTraveler removes every booking owned by the traveler and
// returns the seats of the active ones, in one transaction. Running it twice
// is safe; zero rows deleted is not an error.
func (r *PostgresRepository) DeleteBookingsByTraveler(ctx context.Context, travelerID uuid.UUID) (int64, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT trip_id, participants FROM bookings
		 WHERE traveler_id = $1 AND status = 'active'`,
		travelerID,
	)
	if err != nil {
		return 0, err
	}
	type release struct {
		tripID uuid.UUID
		seats  int
	}
	var releases []release
	for rows.Next() {
		var rel release
		if err := rows.Scan(&rel.tripID, &rel.seats); err != nil {
			rows.Close()
			return 0, err
		}
		releases = append(releases, rel)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, rel := range releases {
		_, err := tx.Exec(ctx,
			`UPDATE trips SET booked_count = GREATEST(booked_count - $2, 0) WHERE id = $1`,
			rel.tripID, rel.seats,
		)
		if err != nil {
			return 0, err
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM bookings WHERE traveler_id = $1`, travelerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), tx.Commit(ctx)
}

// RecordConsumerAttempt increments the delivery counter for a message dedup
// key and returns the new count.
func (r *PostgresRepository) RecordConsumerAttempt(ctx context.Context, dedupKey string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`INSERT INTO consumer_attempts (dedup_key, attempts, last_attempt_at)
		 VALUES ($1, 1, NOW())
		 ON CONFLICT (dedup_key)
		 DO UPDATE SET attempts = consumer_attempts.attempts + 1, last_attempt_at = NOW()
		 RETURNING attempts`,
		dedupKey,
	).Scan(&attempts)
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// ClearConsumerAttempts drops the delivery counter after a successful handle.
func (r *PostgresRepository) ClearConsumerAttempts(ctx context.Context, dedupKey string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM consumer_attempts WHERE dedup_key = $1`, dedupKey)
	return err
}

// ParkDeadLetter stores a message that exhausted its delivery attempts for
// operator inspection. The payload column is text, not jsonb, because parked
// messages are often not valid JSON.
func (r *PostgresRepository) ParkDeadLetter(ctx context.Context, routingKey, dedupKey string, payload []byte, reason string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dead_letters (routing_key, dedup_key, payload, reason, parked_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		routingKey, dedupKey, string(payload), reason,
	)
	return err
}

// DeleteDeadLettersBefore trims parked messages older than the retention
// window.
func (r *PostgresRepository) DeleteDeadLettersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM dead_letters WHERE parked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteConsumerAttemptsBefore trims stale delivery counters.
func (r *PostgresRepository) DeleteConsumerAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM consumer_attempts WHERE last_attempt_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
