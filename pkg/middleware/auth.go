package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/fursona/pkg/auth"
	"github.com/platinummonkey/fursona/pkg/contextkeys"
	"github.com/platinummonkey/fursona/pkg/httputil"
)

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// AuthMiddleware requires a valid bearer token
type AuthMiddleware struct {
	tokens TokenVerifier
	audit  *auth.AuditLogger
}

// NewAuthMiddleware creates a new authentication middleware. audit may be nil.
func NewAuthMiddleware(tokens TokenVerifier, audit *auth.AuditLogger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, audit: audit}
}

// Handler wraps next with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "Access token required")
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			if m.audit != nil {
				ev := auth.EventFromRequest(r, auth.ActionTokenRejected, auth.StatusDenied)
				ev.Err = err
				m.audit.Log(r.Context(), ev)
			}
			httputil.WriteForbidden(w, "Invalid or expired token")
			return
		}

		ctx := contextkeys.WithClaims(r.Context(), claims)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(claims.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// GetClaims returns the verified claims of the request, or nil
func GetClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(contextkeys.ClaimsKey).(*auth.Claims)
	return claims
}

// UserID returns the authenticated user id
func UserID(r *http.Request) (int64, bool) {
	claims := GetClaims(r)
	if claims == nil {
		return 0, false
	}
	return claims.ID, true
}
