package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/portfolio-site/projectstats/utils"
)

const bearerPrefix = "Bearer "

// AdminSecret is the server-side secret guarding admin operations. TokenHash, a bcrypt hash,
// takes precedence over the plain Token.
type AdminSecret struct {
	Token     string
	TokenHash string
}

// Configured reports whether any secret is set.
func (s AdminSecret) Configured() bool {
	return s.Token != "" || s.TokenHash != ""
}

// Matches reports whether token equals the secret.
func (s AdminSecret) Matches(token string) bool {
	if s.TokenHash != "" {
		return utils.CheckSecretHash(s.TokenHash, token)
	}
	return utils.EqualSecret(s.Token, token)
}

// AdminTokenRequired only lets requests through whose bearer token matches secret.
// No secret configured -> 500, header missing or not starting with "Bearer " -> 401, wrong token -> 403.
func AdminTokenRequired(secret AdminSecret) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !secret.Configured() {
			utils.Sugar.Errorw("admin token is not configured, rejecting admin request",
				"path", ctx.Request.URL.Path, "request_id", GetRequestID(ctx))
			utils.Error(ctx, http.StatusInternalServerError, 50001, "Server configuration error: ADMIN_TOKEN not set.")
			return
		}

		authHeader := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			utils.Sugar.Warnw("unauthorized admin attempt: missing or invalid authorization header",
				"key", RequestSourceKey(ctx), "request_id", GetRequestID(ctx))
			utils.Error(ctx, http.StatusUnauthorized, 40101, "Unauthorized: Bearer token required.")
			return
		}

		// The token must match byte for byte; no case folding or trimming.
		if !secret.Matches(strings.TrimPrefix(authHeader, bearerPrefix)) {
			utils.Sugar.Warnw("unauthorized admin attempt: invalid token",
				"key", RequestSourceKey(ctx), "request_id", GetRequestID(ctx))
			utils.Error(ctx, http.StatusForbidden, 40301, "Forbidden: Invalid token.")
			return
		}

		ctx.Next()
	}
}

// RequireQueryFlag answers 405 unless the query parameter name equals "true".
func RequireQueryFlag(name string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Query(name) != "true" {
			utils.Error(ctx, http.StatusMethodNotAllowed, 40501, "Method not allowed")
			return
		}
		ctx.Next()
	}
}
