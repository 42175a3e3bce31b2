package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
	"github.com/tripstack/booking-platform/pkg/railclient"
)

type reconcileRepoStub struct {
	store.Repository

	stale []domain.Payment

	completed []uuid.UUID
	failed    []uuid.UUID
	cancelled []uuid.UUID
}

func (s *reconcileRepoStub) ListStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Payment, error) {
	return s.stale, nil
}

func (s *reconcileRepoStub) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	for i := range s.stale {
		if s.stale[i].ID == id {
			return &s.stale[i], nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (s *reconcileRepoStub) CompletePaymentAndEnqueueFact(ctx context.Context, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (bool, error) {
	s.completed = append(s.completed, paymentID)
	s.mark(paymentID, domain.StatusCompleted)
	return true, nil
}

func (s *reconcileRepoStub) FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	s.failed = append(s.failed, paymentID)
	s.mark(paymentID, domain.StatusFailed)
	return true, nil
}

func (s *reconcileRepoStub) CancelPayment(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	s.cancelled = append(s.cancelled, paymentID)
	s.mark(paymentID, domain.StatusCancelled)
	return true, nil
}

func (s *reconcileRepoStub) mark(paymentID uuid.UUID, status string) {
	for i := range s.stale {
		if s.stale[i].ID == paymentID {
			s.stale[i].Status = status
		}
	}
}

func stalePayment(intentID string) domain.Payment {
	p := confirmablePayment(domain.StatusPending)
	if intentID == "" {
		p.RailIntentID = nil
	} else {
		p.RailIntentID = &intentID
	}
	return *p
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileStalePayments_SettlesByRailAnswer(t *testing.T) {
	repo := &reconcileRepoStub{stale: []domain.Payment{
		stalePayment("int_done"),
		stalePayment("int_dead"),
		stalePayment("int_expired"),
	}}
	gateway := &gatewayStub{
		getIntentFn: func(intentID string) (*railclient.IntentResponse, error) {
			switch intentID {
			case "int_done":
				return intentResponse(intentID, "completed", "cap_done", ""), nil
			case "int_dead":
				return intentResponse(intentID, "failed", "", ""), nil
			default:
				return intentResponse(intentID, "expired", "", ""), nil
			}
		},
	}
	service := NewService(repo, gateway, "")
	jobs := NewJobs(service, quietLogger(), 30*time.Minute, time.Hour, time.Hour)

	jobs.ReconcileStalePayments()

	if len(repo.completed) != 1 {
		t.Fatalf("expected one completion, got %d", len(repo.completed))
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected one failure, got %d", len(repo.failed))
	}
	if len(repo.cancelled) != 1 {
		t.Fatalf("expected one cancellation for the expired intent, got %d", len(repo.cancelled))
	}
}

func TestReconcileStalePayments_RailStillDownLeavesStateAlone(t *testing.T) {
	repo := &reconcileRepoStub{stale: []domain.Payment{stalePayment("int_stuck")}}
	gateway := &gatewayStub{
		getIntentFn: func(intentID string) (*railclient.IntentResponse, error) {
			return nil, errors.New("connection refused")
		},
	}
	service := NewService(repo, gateway, "")
	jobs := NewJobs(service, quietLogger(), 30*time.Minute, time.Hour, time.Hour)

	jobs.ReconcileStalePayments()

	if len(repo.completed)+len(repo.failed)+len(repo.cancelled) != 0 {
		t.Fatal("an unreachable rail must not transition anything")
	}
	if repo.stale[0].Status != domain.StatusPending {
		t.Fatalf("expected payment to stay pending, got %q", repo.stale[0].Status)
	}
}

func TestReconcileStalePayments_SkipsPaymentsThatNeverReachedTheRail(t *testing.T) {
	repo := &reconcileRepoStub{stale: []domain.Payment{stalePayment("")}}
	called := false
	gateway := &gatewayStub{
		getIntentFn: func(intentID string) (*railclient.IntentResponse, error) {
			called = true
			return nil, errors.New("should not be called")
		},
	}
	service := NewService(repo, gateway, "")
	jobs := NewJobs(service, quietLogger(), 30*time.Minute, time.Hour, time.Hour)

	jobs.ReconcileStalePayments()

	if called {
		t.Fatal("a payment without an intent has nothing to reconcile against")
	}
}
