package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/internal/service"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
	"github.com/noah-isme/identity-api/pkg/response"
)

// ContextUserKey is the gin context key holding the authenticated user.
const ContextUserKey = "currentUser"

type userLookup interface {
	Get(ctx context.Context, id int64) (*models.User, error)
}

// Authenticate extracts a bearer token from the Authorization header,
// validates it and attaches the resolved user to the request context.
//
// This interceptor never rejects: a missing, malformed, expired or otherwise
// invalid token leaves the request unauthenticated and the pipeline running.
// Endpoint-level gates (RequireIdentity) are responsible for returning 401.
func Authenticate(tokens *service.TokenService, users userLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Next()
			return
		}

		userID, err := tokens.Validate(parts[1], time.Now().UTC())
		if err != nil {
			c.Next()
			return
		}

		user, err := users.Get(c.Request.Context(), userID)
		if err != nil {
			c.Next()
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireIdentity rejects requests that carry no verified identity.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextUserKey); !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserFromContext returns the authenticated user attached by Authenticate,
// or nil when the request is unauthenticated.
func UserFromContext(c *gin.Context) *models.User {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
