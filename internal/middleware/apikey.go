package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/datht30102002/keygate/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	// APIKeyQueryParam and APIKeyHeader are the two transport locations a
	// key may arrive in. Either one is sufficient.
	APIKeyQueryParam = "api-key"
	APIKeyHeader     = "X-API-Key"

	// Context keys set on successful validation.
	ContextKeyIdentity = "key_identity"
	ContextKeyOwnerID  = "key_owner_id"
	ContextKeyRoles    = "key_roles"
	ContextKeyConfig   = "key_config"
	ContextKeyHash     = "key_hash"
)

// KeyValidator validates a presented plaintext key. Implemented by
// service.APIKeyService.
type KeyValidator interface {
	Validate(ctx context.Context, plaintext string) (*service.KeyIdentity, error)
}

// RequireAPIKey guards an endpoint with API key authentication. The key is
// read from the api-key query parameter or the X-API-Key header. All failure
// causes after a key is presented (unknown, revoked, expired, lookup error)
// produce the same response so callers cannot probe which keys exist.
func RequireAPIKey(validator KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query(APIKeyQueryParam)
		if key == "" {
			key = c.GetHeader(APIKeyHeader)
		}

		if key == "" {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "An API key must be passed as query or header",
			})
			c.Abort()
			return
		}

		key = strings.TrimSpace(key)

		identity, err := validator.Validate(c.Request.Context(), key)
		if err != nil || identity == nil {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "invalid, revoked, or expired API key",
			})
			c.Abort()
			return
		}

		c.Set(ContextKeyIdentity, identity)
		c.Set(ContextKeyOwnerID, identity.OwnerID)
		c.Set(ContextKeyRoles, identity.Roles)
		c.Set(ContextKeyConfig, identity.Config)
		c.Set(ContextKeyHash, service.HashKey(key))

		c.Next()
	}
}

// GetKeyIdentity returns the identity attached by RequireAPIKey, or nil when
// the request was not key-authenticated.
func GetKeyIdentity(c *gin.Context) *service.KeyIdentity {
	if v, exists := c.Get(ContextKeyIdentity); exists {
		if identity, ok := v.(*service.KeyIdentity); ok {
			return identity
		}
	}
	return nil
}
