// README: Firebase bearer-token auth; stores the caller uid and role on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridebid/internal/infra"
)

const (
	ctxUID  = "auth.uid"
	ctxRole = "auth.role"

	// DevUserHeader carries the caller id when auth is disabled.
	DevUserHeader = "X-User-ID"
	DevRoleHeader = "X-User-Role"
)

// Auth rejects requests without a valid "Bearer <token>" header. Websocket
// clients, which cannot set headers, may pass the token as ?access_token=.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxRole, role)
		}
		c.Next()
	}
}

// DevAuth trusts X-User-ID and X-User-Role. Local runs only.
func DevAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(DevUserHeader)
		if uid == "" {
			uid = c.Query("user_id")
		}
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + DevUserHeader})
			return
		}
		c.Set(ctxUID, uid)
		role := c.GetHeader(DevRoleHeader)
		if role == "" {
			role = c.Query("role")
		}
		if role != "" {
			c.Set(ctxRole, role)
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return c.Query("access_token")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

// CallerRole is the "role" custom claim, or "" when absent.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}
