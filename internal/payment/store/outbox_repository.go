package store

import (
	"context"
	"time"
)

// ClaimOutboxMessages atomically claims a batch of queued facts for
// publication, including rows stuck in processing longer than
// staleAfterSeconds (a dispatcher that died mid-flush).
func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, batchSize, staleAfterSeconds int) ([]OutboxMessage, error) {
	query := `
		UPDATE payment_outbox
		SET status = 'processing', attempts = attempts + 1, claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM payment_outbox
			WHERE (status = 'queued' AND next_attempt_at <= NOW())
			   OR (status = 'processing' AND claimed_at < NOW() - ($2 * INTERVAL '1 second'))
			ORDER BY id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, exchange, routing_key, payload, attempts
	`
	rows, err := r.db.Query(ctx, query, batchSize, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Exchange, &m.RoutingKey, &m.Payload, &m.Attempts); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkOutboxPublished marks a fact as acknowledged by the bus.
func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_outbox SET status = 'published', published_at = NOW(), last_error = NULL WHERE id = $1`,
		id,
	)
	return err
}

// MarkOutboxFailed requeues a fact for a later attempt with the given delay.
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, lastError string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_outbox
		 SET status = 'queued', next_attempt_at = NOW() + ($2 * INTERVAL '1 second'), last_error = $3
		 WHERE id = $1`,
		id, retryAfterSeconds, lastError,
	)
	return err
}

// DeletePublishedOutboxBefore trims acknowledged facts older than the
// retention cutoff.
func (r *PostgresRepository) DeletePublishedOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM payment_outbox WHERE status = 'published' AND published_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
