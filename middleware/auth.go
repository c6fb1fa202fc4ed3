package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"pmc-rag-platform/internal/config"
	"pmc-rag-platform/utils"
)

type AuthMiddleware struct {
	config *config.Config
}

func NewAuthMiddleware(cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{config: cfg}
}

// RequireAuth enforces bearer auth when API_TOKEN is configured. Auth
// is access control only; it is independent of uri redaction, which is
// a content policy.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.config.APIToken == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondWithUnauthorized(c, "Missing Bearer token")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.config.APIToken)) != 1 {
			utils.RespondWithForbidden(c, "Invalid token")
			c.Abort()
			return
		}

		c.Next()
	}
}
