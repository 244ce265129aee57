package model

import (
	"context"
)

// RequestContext carries the authenticated caller identity for one admin
// action. The bearer token is obtained from the auth collaborator and is
// forwarded verbatim to the remote API; the client never refreshes it.
// It is immutable after construction and safe for concurrent reads.
type RequestContext struct {
	Token         string
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	Locale        string

	// SessionID, when set, keys the caller's local state in place of tenant
	// and subject. Callers whose claims were not verified carry one derived
	// from the raw token.
	SessionID string
}

// Validate checks that the context can authenticate a remote call. A missing
// token surfaces as UNAUTHORIZED, the same failure the remote API would give.
func (rc *RequestContext) Validate() error {
	if rc == nil || rc.Token == "" {
		return NewUnauthorizedError("missing bearer credential")
	}
	return nil
}

// PlatformScope is the scope of callers that act outside any tenant.
const PlatformScope = "platform"

// Scope returns the tenant the caller acts in, or PlatformScope. It is safe
// on a nil receiver.
func (rc *RequestContext) Scope() string {
	if rc == nil || rc.TenantID == "" {
		return PlatformScope
	}
	return rc.TenantID
}

// HasRole returns true if the RequestContext contains the given role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claim returns the value of the given claim key, or nil if not present.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. Only call it behind the authentication middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
