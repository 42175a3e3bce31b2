package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/booking-platform/internal/payment/store"
	"github.com/tripstack/booking-platform/internal/platform/events"
)

// CascadeConsumer performs the payment-side cascade when a user account is
// deleted. Each owning service cleans up independently; a failure here never
// blocks the originating deletion, it only delays redelivery.
type CascadeConsumer struct {
	repo store.Repository
}

// NewCascadeConsumer creates the account-deletion consumer.
func NewCascadeConsumer(repo store.Repository) *CascadeConsumer {
	return &CascadeConsumer{repo: repo}
}

// HandleAccountDeleted processes an account.deleted fact. Returns true to
// acknowledge; false leaves the fact queued for redelivery, which is the
// sole retry mechanism.
func (c *CascadeConsumer) HandleAccountDeleted(body []byte) bool {
	var event events.AccountDeletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=payment_cascade msg=\"malformed account.deleted payload; dropping\" err=%v", err)
		return true
	}
	if event.UserID == uuid.Nil {
		log.Printf("level=warn component=payment_cascade msg=\"account.deleted missing user id; dropping\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	removed, err := c.repo.DeletePaymentsByOwner(ctx, event.UserID)
	if err != nil {
		log.Printf("level=error component=payment_cascade msg=\"cascade delete failed; re-queuing\" user_id=%s err=%v", event.UserID, err)
		return false
	}

	// Zero rows is fine: nothing to delete, or a redelivered fact.
	log.Printf("level=info component=payment_cascade msg=\"cascade delete applied\" user_id=%s payments_removed=%d", event.UserID, removed)
	return true
}
