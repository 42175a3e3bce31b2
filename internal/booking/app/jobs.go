/**
 * @description
 * Scheduled maintenance jobs for the booking-service: retention cleanup for
 * the dead letter table and stale consumer attempt counters.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/tripstack/booking-platform/internal/booking/store"
)

// Jobs contains the logic for all scheduled booking-service tasks.
type Jobs struct {
	repo   store.Repository
	logger *slog.Logger

	deadLetterRetention time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, logger *slog.Logger, deadLetterRetention time.Duration) *Jobs {
	return &Jobs{
		repo:                repo,
		logger:              logger,
		deadLetterRetention: deadLetterRetention,
	}
}

// CleanupDeadLetters trims parked messages past the retention window and
// attempt counters that stopped moving long ago. A counter whose message is
// still live is refreshed on every delivery, so trimming by age is safe.
func (j *Jobs) CleanupDeadLetters() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.deadLetterRetention)

	removed, err := j.repo.DeleteDeadLettersBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to trim dead letters", "error", err)
	} else if removed > 0 {
		j.logger.Info("trimmed dead letters", "removed", removed)
	}

	cleared, err := j.repo.DeleteConsumerAttemptsBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to trim consumer attempts", "error", err)
	} else if cleared > 0 {
		j.logger.Info("trimmed consumer attempts", "removed", cleared)
	}
}
