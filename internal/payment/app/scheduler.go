/**
 * @description
 * Cron scheduler setup for the payment-service maintenance jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the payment-service cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger

	reconcileSchedule string
	cleanupSchedule   string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, reconcileSchedule, cleanupSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:              c,
		jobs:              jobs,
		logger:            logger,
		reconcileSchedule: reconcileSchedule,
		cleanupSchedule:   cleanupSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.reconcileSchedule, s.jobs.ReconcileStalePayments); err != nil {
		s.logger.Error("failed to schedule reconciliation sweep", "error", err)
	} else {
		s.logger.Info("scheduled reconciliation sweep", "schedule", s.reconcileSchedule)
	}

	if _, err := s.cron.AddFunc(s.cleanupSchedule, s.jobs.CleanupWebhookEvents); err != nil {
		s.logger.Error("failed to schedule webhook event cleanup", "error", err)
	} else {
		s.logger.Info("scheduled webhook event cleanup", "schedule", s.cleanupSchedule)
	}

	if _, err := s.cron.AddFunc(s.cleanupSchedule, s.jobs.CleanupPublishedOutbox); err != nil {
		s.logger.Error("failed to schedule outbox cleanup", "error", err)
	} else {
		s.logger.Info("scheduled outbox cleanup", "schedule", s.cleanupSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
