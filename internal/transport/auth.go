package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/model"
)

// Authenticator reads the caller identity from the bearer token and keeps
// the raw token on the request context so it can be forwarded verbatim.
//
// In verify mode, the default, a token is accepted only with a valid
// signature from the identity provider plus the configured issuer and
// audience. In unverified mode claims are read as sent and the caller's
// local state is keyed by the token itself, so forging another operator's
// claims never reaches that operator's state.
type Authenticator struct {
	claimPaths    map[string]string
	verify        bool
	rejectExpired bool
	keys          KeySource
	parser        *jwt.Parser
	now           func() time.Time
}

// NewAuthenticator builds an Authenticator from the identity config. keys
// resolves signing keys in verify mode and is unused otherwise.
func NewAuthenticator(cfg config.IdentityConfig, keys KeySource) *Authenticator {
	a := &Authenticator{
		claimPaths:    cfg.ClaimPaths,
		verify:        cfg.Mode != config.IdentityUnverified,
		rejectExpired: cfg.RejectExpired,
		keys:          keys,
		now:           time.Now,
	}
	if !a.verify {
		a.parser = jwt.NewParser()
		return a
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a
}

// Middleware rejects requests without an acceptable bearer token and stores
// the resulting model.RequestContext in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		var claims jwt.MapClaims
		if a.verify {
			claims, err = a.verified(token)
		} else {
			claims, err = a.unverified(token)
		}
		if err != nil {
			WriteError(w, err)
			return
		}

		rctx := a.requestContext(r, token, claims)
		ctx := model.WithRequestContext(r.Context(), rctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) verified(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(token, claims, a.keyFunc); err != nil {
		return nil, model.NewUnauthorizedError(classifyJWTError(err))
	}
	return claims, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid in token header")
	}
	if a.keys == nil {
		return nil, errors.New("no signing keys configured")
	}
	return a.keys.GetKey(kid)
}

func (a *Authenticator) unverified(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := a.parser.ParseUnverified(token, claims); err != nil {
		return nil, model.NewUnauthorizedError("Invalid token")
	}
	if !a.rejectExpired {
		return claims, nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, model.NewUnauthorizedError("Invalid token")
	}
	if exp != nil && !a.now().Before(exp.Time) {
		return nil, model.NewUnauthorizedError("Token expired")
	}
	return claims, nil
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Unknown signing key"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if strings.Contains(err.Error(), "signing method") {
			return "Disallowed signing algorithm"
		}
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}

func (a *Authenticator) requestContext(r *http.Request, token string, claims jwt.MapClaims) *model.RequestContext {
	raw := map[string]any(claims)
	rctx := &model.RequestContext{
		Token:         token,
		SubjectID:     claimString(raw, a.path("subject_id")),
		Email:         claimString(raw, a.path("email")),
		TenantID:      claimString(raw, a.path("tenant_id")),
		Roles:         claimStringSlice(raw, a.path("roles")),
		Claims:        raw,
		CorrelationID: CorrelationIDFrom(r.Context()),
		TraceID:       observability.TraceIDFromContext(r.Context()),
		Locale:        r.Header.Get("Accept-Language"),
	}
	if !a.verify {
		sum := sha256.Sum256([]byte(token))
		rctx.SessionID = "token:" + hex.EncodeToString(sum[:])
		return rctx
	}
	// A verified caller without a tenant claim may pick one; the remote API
	// checks membership on every call.
	if rctx.TenantID == "" {
		rctx.TenantID = r.Header.Get("X-Tenant-Id")
	}
	return rctx
}

func (a *Authenticator) path(name string) string {
	if p, ok := a.claimPaths[name]; ok && p != "" {
		return p
	}
	return name
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", model.NewUnauthorizedError("Missing authorization header")
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", model.NewUnauthorizedError("Invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}

// claimValue resolves a dotted claim path such as "realm_access.roles".
func claimValue(claims map[string]any, path string) any {
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func claimString(claims map[string]any, path string) string {
	v, _ := claimValue(claims, path).(string)
	return v
}

func claimStringSlice(claims map[string]any, path string) []string {
	switch v := claimValue(claims, path).(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}
