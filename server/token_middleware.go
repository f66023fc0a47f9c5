package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenMiddleware validates the bearer token and sets user info in context.
// This middleware should run first, before scope checks.
func (s *Server) TokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "missing authorization header",
			})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "invalid authorization header format",
			})
			c.Abort()
			return
		}

		claims, err := s.Manager.ValidateAccessToken(c.Request.Context(), parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "token validation failed",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("client_id", claims.ClientID)
		if claims.Scope != "" {
			c.Set("user_scopes", strings.Fields(claims.Scope))
		}
		c.Set("token_claims", claims)
		c.Next()
	}
}

// RequireScope rejects requests whose token does not carry the given scope.
// TokenMiddleware must run first.
func (s *Server) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, _ := c.Get("user_scopes")
		if tokens, ok := scopes.([]string); ok {
			for _, tok := range tokens {
				if tok == scope {
					c.Next()
					return
				}
			}
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "insufficient_scope",
			"error_description": "token does not grant scope " + scope,
		})
		c.Abort()
	}
}
