/**
 * @description
 * Scheduled maintenance jobs for the payment-service: the reconciliation
 * sweep over stale pending payments and retention cleanup for the
 * webhook-event dedup table and the published outbox.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// Jobs contains the logic for all scheduled payment-service tasks.
type Jobs struct {
	service *Service
	logger  *slog.Logger

	stalePendingAge   time.Duration
	sweepBatchSize    int
	webhookRetention  time.Duration
	outboxRetention   time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, logger *slog.Logger, stalePendingAge, webhookRetention, outboxRetention time.Duration) *Jobs {
	return &Jobs{
		service:          service,
		logger:           logger,
		stalePendingAge:  stalePendingAge,
		sweepBatchSize:   100,
		webhookRetention: webhookRetention,
		outboxRetention:  outboxRetention,
	}
}

// ReconcileStalePayments re-queries the rail for payments stuck in pending
// or processing beyond the threshold. A timeout during checkout or confirm
// leaves the payment untransitioned on purpose; this sweep applies the
// rail's authoritative answer once it is known.
func (j *Jobs) ReconcileStalePayments() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	payments, err := j.service.repo.ListStalePendingPayments(ctx, j.stalePendingAge, j.sweepBatchSize)
	if err != nil {
		j.logger.Error("failed to list stale pending payments", "error", err)
		return
	}
	if len(payments) == 0 {
		return
	}

	j.logger.Info("reconciling stale payments", "count", len(payments))
	settled := 0
	for i := range payments {
		payment := &payments[i]
		if payment.RailIntentID == nil {
			// Never reached the rail; nothing to reconcile against.
			continue
		}
		resp, err := j.service.gateway.GetIntent(ctx, *payment.RailIntentID)
		if err != nil {
			j.logger.Warn("rail query failed during reconciliation", "payment_id", payment.ID, "error", err)
			continue
		}
		before := payment.Status
		after, err := j.service.applyRailDecision(ctx, payment, resp)
		if err != nil {
			j.logger.Error("failed to apply reconciled rail state", "payment_id", payment.ID, "error", err)
			continue
		}
		if after.Status != before {
			settled++
			j.logger.Info("reconciled payment", "payment_id", payment.ID, "from", before, "to", after.Status)
		}
	}
	if settled > 0 {
		j.logger.Info("reconciliation sweep finished", "settled", settled)
	}
}

// CleanupWebhookEvents trims admitted webhook event ids past the retention
// window so the dedup table stays bounded.
func (j *Jobs) CleanupWebhookEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := j.service.repo.DeleteWebhookEventsBefore(ctx, time.Now().Add(-j.webhookRetention))
	if err != nil {
		j.logger.Error("failed to trim webhook events", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("trimmed webhook events", "removed", removed)
	}
}

// CleanupPublishedOutbox trims acknowledged outbox rows past retention.
func (j *Jobs) CleanupPublishedOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := j.service.repo.DeletePublishedOutboxBefore(ctx, time.Now().Add(-j.outboxRetention))
	if err != nil {
		j.logger.Error("failed to trim published outbox", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("trimmed published outbox", "removed", removed)
	}
}
