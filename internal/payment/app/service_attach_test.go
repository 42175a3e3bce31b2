package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/authctx"
	"github.com/tripstack/booking-platform/internal/platform/events"
	"github.com/tripstack/booking-platform/pkg/railclient"
)

type attachRepoStub struct {
	store.Repository

	payment *domain.Payment
	fact    *events.PaymentRefundedEvent
}

func (s *attachRepoStub) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	if s.payment == nil {
		return nil, store.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *attachRepoStub) SetPaymentBookingID(ctx context.Context, paymentID, bookingID uuid.UUID) error {
	if s.payment.BookingID == nil {
		id := bookingID
		s.payment.BookingID = &id
	}
	return nil
}

func (s *attachRepoStub) RefundPaymentAndEnqueueFact(ctx context.Context, paymentID uuid.UUID, fact events.PaymentRefundedEvent) (bool, error) {
	s.payment.Status = domain.StatusRefunded
	s.fact = &fact
	return true, nil
}

func TestAttachBooking_RequiresPrivilegedActor(t *testing.T) {
	repo := &attachRepoStub{payment: refundablePayment()}
	service := NewService(repo, &gatewayStub{}, "")
	owner := authctx.Actor{UserID: repo.payment.OwnerID, Role: authctx.RoleOwner}

	if _, err := service.AttachBooking(context.Background(), owner, repo.payment.ID, uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for the owner, got %v", err)
	}
	if repo.payment.BookingID != nil {
		t.Fatal("expected no booking to be attached by an unprivileged actor")
	}
}

func TestAttachBooking_RejectsMissingBookingID(t *testing.T) {
	repo := &attachRepoStub{payment: refundablePayment()}
	service := NewService(repo, &gatewayStub{}, "")
	internal := authctx.Actor{Role: authctx.RoleInternal}

	if _, err := service.AttachBooking(context.Background(), internal, repo.payment.ID, uuid.Nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAttachBooking_StampsPaymentAndRefundFactCarriesIt(t *testing.T) {
	repo := &attachRepoStub{payment: refundablePayment()}
	gateway := &gatewayStub{
		refundCaptureFn: func(captureID string, amount int64) (*railclient.RefundResponse, error) {
			return &railclient.RefundResponse{}, nil
		},
	}
	service := NewService(repo, gateway, "")
	internal := authctx.Actor{Role: authctx.RoleInternal}

	bookingID := uuid.New()
	payment, err := service.AttachBooking(context.Background(), internal, repo.payment.ID, bookingID)
	if err != nil {
		t.Fatalf("expected the booking to be attached, got %v", err)
	}
	if payment.BookingID == nil || *payment.BookingID != bookingID {
		t.Fatal("expected the booking id to be stamped on the payment")
	}

	if _, err := service.Refund(context.Background(), internal, repo.payment.ID, nil); err != nil {
		t.Fatalf("expected refund to succeed, got %v", err)
	}
	if repo.fact == nil {
		t.Fatal("expected a refund fact to be enqueued")
	}
	if repo.fact.BookingID == nil || *repo.fact.BookingID != bookingID {
		t.Fatal("expected the refund fact to carry the attached booking id")
	}
}
