/**
 * @description
 * PostgreSQL implementation of the payment-service Repository. All status
 * transitions are guarded compare-and-set updates; the webhook variants run
 * the idempotency admit, the transition, and the outbox enqueue inside one
 * transaction.
 *
 * Tables:
 *   payments(id uuid pk, owner_id, trip_id, booking_id, amount, fee,
 *     net_amount, currency, method, status, rail_session_id unique,
 *     rail_intent_id unique, rail_capture_id unique, idempotency_key,
 *     booking_payload jsonb, failure_reason, created_at, paid_at,
 *     refunded_at, unique(owner_id, idempotency_key))
 *   webhook_events(event_id text pk, received_at)
 *   payment_outbox(id bigserial pk, exchange, routing_key, payload jsonb,
 *     status queued|processing|published, attempts, next_attempt_at,
 *     claimed_at, last_error, created_at, published_at)
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and transaction support.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/platform/events"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `
	id, owner_id, booking_id, trip_id, amount, fee, net_amount, currency,
	method, status, rail_session_id, rail_intent_id, rail_capture_id,
	idempotency_key, booking_payload, failure_reason, created_at, paid_at, refunded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.BookingID, &p.TripID, &p.Amount, &p.Fee,
		&p.NetAmount, &p.Currency, &p.Method, &p.Status, &p.RailSessionID,
		&p.RailIntentID, &p.RailCaptureID, &p.IdempotencyKey,
		&p.BookingPayload, &p.FailureReason, &p.CreatedAt, &p.PaidAt, &p.RefundedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts a new pending payment row.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, owner_id, trip_id, amount, fee, net_amount, currency, method,
			status, idempotency_key, booking_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		p.ID, p.OwnerID, p.TripID, p.Amount, p.Fee, p.NetAmount,
		p.Currency, p.Method, p.Status, p.IdempotencyKey, p.BookingPayload,
	).Scan(&p.CreatedAt)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("payment insert conflict on %s: %w", pgErr.ConstraintName, err)
		}
		return err
	}
	return nil
}

// FindPaymentByID returns the payment with the given id.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

// FindPaymentByRailReference looks a payment up by any of its external
// references (session, intent or capture id).
func (r *PostgresRepository) FindPaymentByRailReference(ctx context.Context, ref string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE rail_session_id = $1 OR rail_intent_id = $1 OR rail_capture_id = $1
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, ref))
}

// FindPaymentByIdempotencyKey returns the owner's payment created under the
// given client-supplied idempotency key, if any.
func (r *PostgresRepository) FindPaymentByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE owner_id = $1 AND idempotency_key = $2`
	return scanPayment(r.db.QueryRow(ctx, query, ownerID, key))
}

// FindOpenPendingPayment returns the newest pending payment the owner has
// for the trip, used to resume an interrupted checkout instead of creating
// a second charge.
func (r *PostgresRepository) FindOpenPendingPayment(ctx context.Context, ownerID, tripID uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE owner_id = $1 AND trip_id = $2 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, ownerID, tripID))
}

// ListPaymentsByOwner returns the owner's payments, newest first.
func (r *PostgresRepository) ListPaymentsByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ListStalePendingPayments returns pending payments older than the given
// age. The reconciliation sweep re-queries the rail for these.
func (r *PostgresRepository) ListStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ('pending', 'processing')
		  AND created_at < NOW() - ($1 * INTERVAL '1 second')
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, int(olderThan.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// SetRailReferences stores the external identifiers the rail returned for a
// payment. A unique violation on any reference column means the reference is
// already attached to another payment.
func (r *PostgresRepository) SetRailReferences(ctx context.Context, paymentID uuid.UUID, refs RailReferences) error {
	query := `
		UPDATE payments
		SET rail_session_id = COALESCE($2, rail_session_id),
		    rail_intent_id  = COALESCE($3, rail_intent_id),
		    rail_capture_id = COALESCE($4, rail_capture_id),
		    fee             = COALESCE($5, fee),
		    net_amount      = amount - COALESCE($5, fee)
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, paymentID, refs.SessionID, refs.IntentID, refs.CaptureID, refs.Fee)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRailReference
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// MarkPaymentProcessing moves a pending payment to processing.
func (r *PostgresRepository) MarkPaymentProcessing(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET status = 'processing' WHERE id = $1 AND status = 'pending'`,
		paymentID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FailPayment moves a pending or processing payment to failed with a reason.
func (r *PostgresRepository) FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET status = 'failed', failure_reason = $2
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		paymentID, reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CancelPayment moves a pending or processing payment to cancelled.
func (r *PostgresRepository) CancelPayment(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET status = 'cancelled'
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		paymentID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompletePaymentAndEnqueueFact flips the payment to completed and records
// the completion fact in the outbox, in one transaction. Returns false when
// the payment already left pending/processing; the caller treats that as an
// idempotent no-op.
func (r *PostgresRepository) CompletePaymentAndEnqueueFact(ctx context.Context, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	applied, err := completePaymentTx(ctx, tx, paymentID, captureID, fact)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

// CompletePaymentViaWebhook admits the rail event id and, if this is the
// first delivery, applies the completion transition and outbox enqueue in
// the same transaction. A duplicate event id returns admitted == false with
// no effect.
func (r *PostgresRepository) CompletePaymentViaWebhook(ctx context.Context, eventID string, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (bool, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback(ctx)

	admitted, err := admitWebhookEventTx(ctx, tx, eventID)
	if err != nil {
		return false, false, err
	}
	if !admitted {
		return false, false, nil
	}

	applied, err := completePaymentTx(ctx, tx, paymentID, captureID, fact)
	if err != nil {
		return false, false, err
	}
	// Commit even when the transition lost the race so the event id stays
	// admitted; the payment is already terminal and the fact already queued.
	return true, applied, tx.Commit(ctx)
}

// FailPaymentViaWebhook admits the rail event id and applies the failed
// transition for a definite decline delivered by webhook.
func (r *PostgresRepository) FailPaymentViaWebhook(ctx context.Context, eventID string, paymentID uuid.UUID, reason string) (bool, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback(ctx)

	admitted, err := admitWebhookEventTx(ctx, tx, eventID)
	if err != nil {
		return false, false, err
	}
	if !admitted {
		return false, false, nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE payments SET status = 'failed', failure_reason = $2
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		paymentID, reason,
	)
	if err != nil {
		return false, false, err
	}
	return true, tag.RowsAffected() > 0, tx.Commit(ctx)
}

// RefundPaymentAndEnqueueFact flips a completed payment to refunded and
// records the refund fact, in one transaction.
func (r *PostgresRepository) RefundPaymentAndEnqueueFact(ctx context.Context, paymentID uuid.UUID, fact events.PaymentRefundedEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE payments SET status = 'refunded', refunded_at = NOW()
		 WHERE id = $1 AND status = 'completed'`,
		paymentID,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := enqueueFactTx(ctx, tx, events.Exchange, events.RoutingKeyPaymentRefunded, fact); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// SetPaymentBookingID links the materialized booking back to its payment.
// The link is informational and set at most once.
func (r *PostgresRepository) SetPaymentBookingID(ctx context.Context, paymentID, bookingID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payments SET booking_id = $2 WHERE id = $1 AND booking_id IS NULL`,
		paymentID, bookingID,
	)
	return err
}

// DeleteWebhookEventsBefore trims admitted event ids older than the
// retention window.
func (r *PostgresRepository) DeleteWebhookEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeletePaymentsByOwner removes every payment owned by the user. Running it
// twice is safe; zero rows deleted is not an error.
func (r *PostgresRepository) DeletePaymentsByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM payments WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// completePaymentTx applies the completed CAS and enqueues the completion
// fact within the caller's transaction.
func completePaymentTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE payments
		 SET status = 'completed', paid_at = NOW(),
		     rail_capture_id = COALESCE($2, rail_capture_id)
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		paymentID, captureID,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := enqueueFactTx(ctx, tx, events.Exchange, events.RoutingKeyPaymentCompleted, fact); err != nil {
		return false, err
	}
	return true, nil
}

// admitWebhookEventTx persists the rail event id. Returns false when the id
// was already admitted within the retention window.
func admitWebhookEventTx(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO webhook_events (event_id, received_at)
		 VALUES ($1, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// enqueueFactTx records an outbound fact in the outbox within the caller's
// transaction. The dispatcher owns publication and retries.
func enqueueFactTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO payment_outbox (exchange, routing_key, payload, status, attempts, next_attempt_at)
		 VALUES ($1, $2, $3::jsonb, 'queued', 0, NOW())`,
		exchange, routingKey, string(blob),
	)
	return err
}
