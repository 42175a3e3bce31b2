/**
 * @description
 * This file defines the core domain models for the payment-service. These
 * structs represent the payment ledger entity and the data transfer objects
 * used by the API and application layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - A payment's status only ever moves forward through the lifecycle below;
 *   terminal states are never overwritten, with the single exception of
 *   completed -> refunded.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses. Lifecycle:
//
//	pending -> processing -> completed -> refunded
//	pending -> failed
//	pending/processing -> cancelled
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

// Payment methods. Wallet is the redirect-approval rail, direct is the
// proof-confirmed rail; card and bank_transfer ride the generic rails.
const (
	MethodWallet = "wallet"
	MethodDirect = "direct"
	MethodCard   = "card"
	MethodBank   = "bank_transfer"
)

// ValidMethod reports whether the given payment method is supported.
func ValidMethod(method string) bool {
	switch method {
	case MethodWallet, MethodDirect, MethodCard, MethodBank:
		return true
	}
	return false
}

// IsTerminal reports whether a status permits no forward transition other
// than completed -> refunded.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Payment is the ledger record for one attempted charge. It maps directly to
// the `payments` table.
type Payment struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	BookingID      *uuid.UUID `json:"booking_id,omitempty"`
	TripID         uuid.UUID  `json:"trip_id"`
	Amount         int64      `json:"amount"` // in cents
	Fee            int64      `json:"fee"`    // in cents
	NetAmount      int64      `json:"net_amount"`
	Currency       string     `json:"currency"`
	Method         string     `json:"method"`
	Status         string     `json:"status"`
	RailSessionID  *string    `json:"rail_session_id,omitempty"`
	RailIntentID   *string    `json:"rail_intent_id,omitempty"`
	RailCaptureID  *string    `json:"rail_capture_id,omitempty"`
	IdempotencyKey *string    `json:"-"`
	BookingPayload []byte     `json:"-"` // serialized events.BookingPayload
	FailureReason  *string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty"`
}

// CheckoutRequest is the DTO for initiating a checkout.
type CheckoutRequest struct {
	TripID         uuid.UUID `json:"trip_id"`
	Amount         int64     `json:"amount"` // in cents
	Currency       string    `json:"currency"`
	Method         string    `json:"method"`
	Participants   int       `json:"participants"`
	TravelerName   string    `json:"traveler_name"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// CheckoutProjection is returned to the client after initiating a checkout.
// ApprovalURL is non-empty when the rail requires out-of-band payer approval.
type CheckoutProjection struct {
	Payment     *Payment `json:"payment"`
	ApprovalURL string   `json:"approval_url,omitempty"`
}

// ConfirmRequest is the DTO for the synchronous confirm endpoint.
type ConfirmRequest struct {
	ExternalReference string `json:"external_reference"`
	Proof             string `json:"proof"`
}

// RefundActionRequest is the DTO for the privileged refund action. A nil
// amount means a full refund.
type RefundActionRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}
