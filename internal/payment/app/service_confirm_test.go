package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/payment/domain"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
	"github.com/tripstack/booking-platform/pkg/railclient"
)

type confirmRepoStub struct {
	store.Repository

	payment *domain.Payment

	completedFact  *events.PaymentCompletedEvent
	completeCalled bool
	// completeApplies simulates the compare-and-set outcome: false means a
	// concurrent path already moved the payment to a terminal state.
	completeApplies bool

	failCalled bool
	failReason string

	processingCalled bool
}

func (s *confirmRepoStub) FindPaymentByRailReference(ctx context.Context, ref string) (*domain.Payment, error) {
	if s.payment == nil {
		return nil, store.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *confirmRepoStub) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	if s.payment == nil {
		return nil, store.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *confirmRepoStub) CompletePaymentAndEnqueueFact(ctx context.Context, paymentID uuid.UUID, captureID *string, fact events.PaymentCompletedEvent) (bool, error) {
	s.completeCalled = true
	if !s.completeApplies {
		return false, nil
	}
	s.completedFact = &fact
	s.payment.Status = domain.StatusCompleted
	if captureID != nil {
		s.payment.RailCaptureID = captureID
	}
	return true, nil
}

func (s *confirmRepoStub) FailPayment(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	s.failCalled = true
	s.failReason = reason
	s.payment.Status = domain.StatusFailed
	return true, nil
}

func (s *confirmRepoStub) MarkPaymentProcessing(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	s.processingCalled = true
	s.payment.Status = domain.StatusProcessing
	return true, nil
}

func confirmablePayment(status string) *domain.Payment {
	intentID := "int_c1"
	payload, _ := json.Marshal(events.BookingPayload{
		TripID:       uuid.New(),
		Participants: 2,
		TravelerName: "Ada Traveler",
	})
	return &domain.Payment{
		ID:             uuid.New(),
		OwnerID:        uuid.New(),
		TripID:         uuid.New(),
		Amount:         25000,
		Currency:       "USD",
		Method:         domain.MethodDirect,
		Status:         status,
		RailIntentID:   &intentID,
		BookingPayload: payload,
	}
}

func TestConfirm_CompletedPaymentIsIdempotentNoOp(t *testing.T) {
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusCompleted)}
	service := NewService(repo, &gatewayStub{}, "")

	payment, err := service.Confirm(context.Background(), "int_c1", "proof")
	if err != nil {
		t.Fatalf("expected terminal no-op, got %v", err)
	}
	if payment.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %q", payment.Status)
	}
	if repo.completeCalled || repo.failCalled {
		t.Fatal("expected no transition attempts on an already-completed payment")
	}
}

func TestConfirm_FailedPaymentIsNotConfirmable(t *testing.T) {
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusFailed)}
	service := NewService(repo, &gatewayStub{}, "")

	if _, err := service.Confirm(context.Background(), "int_c1", "proof"); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("expected ErrNotConfirmable, got %v", err)
	}
}

func TestConfirm_AppliesCompletionWithCaptureAsTransactionID(t *testing.T) {
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusPending), completeApplies: true}
	gateway := &gatewayStub{
		confirmIntentFn: func(intentID, proof string) (*railclient.IntentResponse, error) {
			return intentResponse("int_c1", "completed", "cap_42", ""), nil
		},
	}
	service := NewService(repo, gateway, "")

	payment, err := service.Confirm(context.Background(), "int_c1", "proof")
	if err != nil {
		t.Fatalf("expected confirm to succeed, got %v", err)
	}
	if payment.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %q", payment.Status)
	}
	if repo.completedFact == nil {
		t.Fatal("expected a completion fact to be enqueued")
	}
	if repo.completedFact.TransactionID != "cap_42" {
		t.Fatalf("expected the capture id as dedup key, got %q", repo.completedFact.TransactionID)
	}
	if repo.completedFact.Booking.Participants != 2 {
		t.Fatalf("expected the booking payload to ride the fact, got %+v", repo.completedFact.Booking)
	}
}

func TestConfirm_LosingTheRaceStillReportsTerminalState(t *testing.T) {
	// completeApplies == false simulates the webhook having won the
	// compare-and-set first.
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusPending)}
	gateway := &gatewayStub{
		confirmIntentFn: func(intentID, proof string) (*railclient.IntentResponse, error) {
			return intentResponse("int_c1", "completed", "cap_42", ""), nil
		},
	}
	service := NewService(repo, gateway, "")

	if _, err := service.Confirm(context.Background(), "int_c1", "proof"); err != nil {
		t.Fatalf("expected the losing confirm to succeed quietly, got %v", err)
	}
	if !repo.completeCalled {
		t.Fatal("expected a completion attempt")
	}
	if repo.completedFact != nil {
		t.Fatal("expected no second completion fact from the losing path")
	}
}

func TestConfirm_DefiniteDeclineFailsPayment(t *testing.T) {
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusPending)}
	railErr := &railclient.ErrorResponse{}
	railErr.Errors = append(railErr.Errors, struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	}{Title: "declined", Detail: "insufficient funds", Status: "402"})
	gateway := &gatewayStub{
		confirmIntentFn: func(intentID, proof string) (*railclient.IntentResponse, error) {
			return nil, railErr
		},
	}
	service := NewService(repo, gateway, "")

	payment, err := service.Confirm(context.Background(), "int_c1", "proof")
	if err != nil {
		t.Fatalf("expected decline to settle the payment, got %v", err)
	}
	if !repo.failCalled {
		t.Fatal("expected the payment to be failed on a definite decline")
	}
	if repo.failReason != "insufficient funds" {
		t.Fatalf("expected the rail's reason to be recorded, got %q", repo.failReason)
	}
	if payment.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %q", payment.Status)
	}
}

func TestConfirm_UnknownOutcomeNeverTransitions(t *testing.T) {
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusPending)}
	gateway := &gatewayStub{
		confirmIntentFn: func(intentID, proof string) (*railclient.IntentResponse, error) {
			return nil, errors.New("context deadline exceeded")
		},
	}
	service := NewService(repo, gateway, "")

	if _, err := service.Confirm(context.Background(), "int_c1", "proof"); !errors.Is(err, ErrRailUnavailable) {
		t.Fatalf("expected ErrRailUnavailable, got %v", err)
	}
	if repo.completeCalled || repo.failCalled || repo.processingCalled {
		t.Fatal("a timeout must not transition payment state")
	}
	if repo.payment.Status != domain.StatusPending {
		t.Fatalf("expected payment to stay pending, got %q", repo.payment.Status)
	}
}

func TestConfirm_TransientRailOutageLeavesPaymentPending(t *testing.T) {
	// The rail answers 503 with its usual error envelope. The outage says
	// nothing about the charge's fate, so the payment must stay pending for
	// the reconciliation sweep instead of being failed as a decline.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"errors":[{"title":"Service Unavailable","detail":"upstream processor timeout","status":"503"}]}`))
	}))
	defer server.Close()

	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusPending)}
	service := NewService(repo, railclient.NewClient(server.URL, "test-key"), "")

	if _, err := service.Confirm(context.Background(), "int_c1", "proof"); !errors.Is(err, ErrRailUnavailable) {
		t.Fatalf("expected ErrRailUnavailable, got %v", err)
	}
	if repo.failCalled || repo.completeCalled || repo.processingCalled {
		t.Fatal("a rail outage must not transition payment state")
	}
	if repo.payment.Status != domain.StatusPending {
		t.Fatalf("expected payment to stay pending, got %q", repo.payment.Status)
	}
}

func TestConfirm_FailedDecisionRecordsRailReason(t *testing.T) {
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusPending)}
	gateway := &gatewayStub{
		confirmIntentFn: func(intentID, proof string) (*railclient.IntentResponse, error) {
			resp := intentResponse("int_c1", "failed", "", "")
			resp.Data.Attributes.FailureReason = "card reported stolen"
			return resp, nil
		},
	}
	service := NewService(repo, gateway, "")

	payment, err := service.Confirm(context.Background(), "int_c1", "proof")
	if err != nil {
		t.Fatalf("expected the failure to settle the payment, got %v", err)
	}
	if payment.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %q", payment.Status)
	}
	if repo.failReason != "card reported stolen" {
		t.Fatalf("expected the rail's failure reason, got %q", repo.failReason)
	}
}

func TestConfirm_ProcessingDecisionMarksProcessing(t *testing.T) {
	repo := &confirmRepoStub{payment: confirmablePayment(domain.StatusPending)}
	gateway := &gatewayStub{
		confirmIntentFn: func(intentID, proof string) (*railclient.IntentResponse, error) {
			return intentResponse("int_c1", "processing", "", ""), nil
		},
	}
	service := NewService(repo, gateway, "")

	payment, err := service.Confirm(context.Background(), "int_c1", "proof")
	if err != nil {
		t.Fatalf("expected confirm to succeed, got %v", err)
	}
	if !repo.processingCalled {
		t.Fatal("expected the payment to move to processing")
	}
	if payment.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %q", payment.Status)
	}
}
