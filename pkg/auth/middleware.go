package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"projectsync/pkg/rbac"
)

const ContextSubjectKey = "subject"

// Guard wires bearer authentication and permission checks into a router.
// A Guard built with an empty secret lets every request through.
type Guard struct {
	secret string
}

func NewGuard(secret string) *Guard {
	return &Guard{secret: secret}
}

func (g *Guard) Enabled() bool { return g.secret != "" }

// Authenticate validates the bearer token and stores subject and role on the context.
func (g *Guard) Authenticate() gin.HandlerFunc {
	if !g.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		token := ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseJWT(token, g.secret)
		if err != nil {
			msg := "invalid token"
			if IsExpired(err) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ContextSubjectKey, claims.Subject)
		c.Set(rbac.ContextRoleKey, claims.Role)
		c.Next()
	}
}

// Require checks the caller's role for permission.
func (g *Guard) Require(permission string) gin.HandlerFunc {
	if !g.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return rbac.RequirePermission(permission)
}
