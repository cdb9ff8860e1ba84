package auth

import (
	"chat-engine/errors"
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RolesKey  contextKey = "roles"
)

// Middleware authenticates gin requests with a bearer token. Browsers
// cannot set headers on a websocket upgrade, so the token is also accepted
// as the access_token query parameter.
func Middleware(issuer TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			abort(c, http.StatusUnauthorized, errors.ErrUnauthenticated)
			return
		}
		claims, err := issuer.ValidateToken(raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, err)
			return
		}
		c.Set(string(UserIDKey), claims.UserID())
		c.Request = c.Request.WithContext(withClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// UserID returns the authenticated user of the request, empty when the
// middleware did not run.
func UserID(c *gin.Context) string {
	return c.GetString(string(UserIDKey))
}

// UserIDFromContext is the context.Context counterpart of UserID.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

func withClaims(ctx context.Context, claims *CustomClaims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID())
	return context.WithValue(ctx, RolesKey, claims.Roles)
}

func bearer(header string) string {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
