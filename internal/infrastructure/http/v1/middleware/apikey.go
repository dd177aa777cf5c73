package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	appctx "fiscalseq/internal/core/context"
)

// APIKeyResolver maps a presented API key to a caller identity.
type APIKeyResolver interface {
	ResolveAPIKey(ctx context.Context, plainKey string) (*appctx.CallerContext, error)
}

// APIKey middleware authenticates machine callers. The key is accepted
// either as "Authorization: Bearer <key>" or in the X-API-Key header.
func APIKey(resolver APIKeyResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			abortUnauthorized(c, "missing API key")
			return
		}

		caller, err := resolver.ResolveAPIKey(c.Request.Context(), key)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		ctx := appctx.WithCaller(c.Request.Context(), caller)
		c.Request = c.Request.WithContext(ctx)

		c.Set("user_id", caller.UserID)

		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}

	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}

	return ""
}
