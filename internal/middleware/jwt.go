package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/response"
)

const (
	// ContextIdentity is the key for the caller's models.Identity in gin context.
	ContextIdentity = "identity"
)

// IdentityValidator turns a bearer token into an identity.
type IdentityValidator interface {
	ValidateIdentity(token string) (models.Identity, error)
}

// JWT returns a middleware that validates the bearer token and sets the identity in context.
func JWT(v IdentityValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		id, err := v.ValidateIdentity(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextIdentity, id)
		c.Next()
	}
}

// CurrentIdentity returns the identity set by JWT.
func CurrentIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}
