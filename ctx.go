package kyc

import (
	"context"

	"github.com/goliatone/go-kyc/middleware/jwtware"
)

var actorCtxKey = &contextKey{"actor"}
var claimsCtxKey = &contextKey{"staff_claims"}

type contextKey struct {
	name string
}

// WithActor sets the acting staff member in the given context.
func WithActor(ctx context.Context, actor ActorRef) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

// ActorFromContext finds the actor set by WithActor.
func ActorFromContext(ctx context.Context) (ActorRef, bool) {
	if ctx == nil {
		return ActorRef{}, false
	}
	actor, ok := ctx.Value(actorCtxKey).(ActorRef)
	return actor, ok && actor.ID != ""
}

// WithStaffClaims sets the validated staff token claims in the given context.
func WithStaffClaims(ctx context.Context, claims *jwtware.StaffClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// StaffClaimsFromContext extracts the claims set by WithStaffClaims.
func StaffClaimsFromContext(ctx context.Context) (*jwtware.StaffClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsCtxKey).(*jwtware.StaffClaims)
	return claims, ok && claims != nil
}

// bindStaff carries the authenticated staff identity into the request
// context so services and hooks can read it.
func bindStaff(ctx context.Context, claims *jwtware.StaffClaims) context.Context {
	if claims == nil {
		return ctx
	}
	ctx = WithStaffClaims(ctx, claims)
	return WithActor(ctx, ActorRef{ID: claims.Subject, Type: ActorTypeStaff})
}
