// Package auth provides request authentication for the gateway: bearer token
// extraction, claims parsing, and identity context plumbing.
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity describes the authenticated caller of a request.
//
// The gateway never validates token signatures itself; the policy service is
// the source of truth for authentication. Claims are parsed only to derive
// the tenant key used for rate limiting and log correlation.
type Identity struct {
	// Subject is the 'sub' claim.
	Subject string

	// TenantID keys rate limiting and logging. It is the workspace claim
	// when present, otherwise the subject.
	TenantID string

	// WorkspaceID is the workspace claim, if the token carried one.
	WorkspaceID string

	// Token is the raw bearer token, forwarded verbatim to the policy
	// service. Never log it.
	Token string

	// Claims holds the full decoded claim set.
	Claims jwt.MapClaims
}

// IdentityContextKey is the key used to store Identity in the request context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even if they have the same name
// in different packages.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context.
// If identity is nil, the original context is returned unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves an Identity from the context.
// Returns the identity and true if present, nil and false otherwise.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}

// claimsToIdentity converts decoded JWT claims to an Identity.
// It requires the 'sub' claim; tokens without a subject cannot be keyed for
// rate limiting and are rejected upstream as unauthorized.
func claimsToIdentity(claims jwt.MapClaims, token string) (*Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim")
	}

	identity := &Identity{
		Subject:  sub,
		TenantID: sub,
		Token:    token,
		Claims:   claims,
	}

	if ws, ok := claims["workspaceId"].(string); ok && ws != "" {
		identity.WorkspaceID = ws
		identity.TenantID = ws
	}

	return identity, nil
}
