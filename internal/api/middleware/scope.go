package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// Token scopes.
const (
	ScopeAdmin         = "admin"
	ScopePostsRead     = "posts:read"
	ScopePostsWrite    = "posts:write"
	ScopeAccountsWrite = "accounts:write"
)

// AllScopes lists every scope a token can be issued with.
var AllScopes = []string{ScopeAdmin, ScopePostsRead, ScopePostsWrite, ScopeAccountsWrite}

// RequireScope returns middleware that aborts with 403 unless the
// authenticated token carries scope or the admin scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get(string(ctxKeyScopes))
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "no scopes in context",
			})
			return
		}
		scopes, ok := raw.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "invalid scopes type",
			})
			return
		}
		if slices.Contains(scopes, ScopeAdmin) || slices.Contains(scopes, scope) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code": "FORBIDDEN", "message": "insufficient scope",
		})
	}
}
