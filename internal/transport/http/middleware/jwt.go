package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"openlegalrag/internal/pkg/jwtutil"
	"openlegalrag/internal/transport/http/response"
)

const (
	ContextClientKey = "client"
	ContextScopeKey  = "scope"
)

// AuthJWT requires a bearer token signed with secret and stores its subject
// as the client name.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextClientKey, claims.Subject)
		c.Set(ContextScopeKey, claims.Scope)
		c.Next()
	}
}
