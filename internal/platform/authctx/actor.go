/**
 * @description
 * This package defines the authorization context passed into service
 * operations. Handlers build an Actor from the authenticated request and the
 * application layer decides what that actor may do, instead of reaching for
 * implicit global role checks.
 */
package authctx

import (
	"context"

	"github.com/google/uuid"
)

// Role identifies the capability set an actor operates with.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleInternal Role = "internal" // service-to-service calls
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the actor carries admin capabilities.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// IsInternal reports whether the call originates from another platform service.
func (a Actor) IsInternal() bool { return a.Role == RoleInternal }

// Owns reports whether the actor is the owner of the given user's resources.
// Admin and internal actors are treated as owning everything.
func (a Actor) Owns(userID uuid.UUID) bool {
	if a.IsAdmin() || a.IsInternal() {
		return true
	}
	return a.UserID == userID
}

type actorContextKey struct{}

// WithActor stores the actor on the request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext retrieves the actor set by the auth middleware.
func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
