package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/datht30102002/keygate/internal/middleware"
	"github.com/datht30102002/keygate/internal/service"
	"github.com/gin-gonic/gin"
)

type APIKeyHandler struct {
	service *service.APIKeyService
}

func NewAPIKeyHandler(service *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// Handles POST /api/api-keys/new. Parameters arrive as query values: name,
// never-expires, roles (comma separated) and config (a JSON object).
// The response body is the plaintext key; it is shown here once and cannot
// be retrieved again.
func (h *APIKeyHandler) Create(c *gin.Context) {
	ownerID := c.GetString("uid")

	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	neverExpires := c.Query("never-expires") == "true"

	roles := []string{"admin"}
	if rolesParam := c.Query("roles"); rolesParam != "" {
		roles = strings.Split(rolesParam, ",")
	}

	keyConfig := map[string]interface{}{}
	if configParam := c.Query("config"); configParam != "" {
		if err := json.Unmarshal([]byte(configParam), &keyConfig); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "config must be a JSON object"})
			return
		}
	}

	ctx := c.Request.Context()
	key, err := h.service.Issue(ctx, ownerID, name, neverExpires, roles, keyConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, key)
}

// Handles GET /api/api-keys/list
func (h *APIKeyHandler) List(c *gin.Context) {
	ownerID := c.GetString("uid")

	ctx := c.Request.Context()
	keys, err := h.service.List(ctx, ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, keys)
}

// Handles DELETE /api/api-keys/revoke?api-key=
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	ownerID := c.GetString("uid")

	key := c.Query("api-key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api-key query parameter is required"})
		return
	}

	ctx := c.Request.Context()
	if err := h.service.Revoke(ctx, ownerID, key); err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

// Handles PATCH /api/api-keys/renew?api-key=&expiration-date=
func (h *APIKeyHandler) Renew(c *gin.Context) {
	ownerID := c.GetString("uid")

	key := c.Query("api-key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api-key query parameter is required"})
		return
	}

	ctx := c.Request.Context()
	newExpiry, err := h.service.Renew(ctx, ownerID, key, c.Query("expiration-date"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeyNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		case errors.Is(err, service.ErrInvalidExpiration):
			c.JSON(http.StatusBadRequest, gin.H{"error": "expiration-date must be RFC 3339"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"expires_at": newExpiry})
}

// Handles GET /api/api-keys/check_key. The route is wrapped by the rate
// limiter and the API key guard; reaching this handler means validation
// succeeded, so it just echoes the identity the guard attached.
func (h *APIKeyHandler) Check(c *gin.Context) {
	identity := middleware.GetKeyIdentity(c)
	if identity == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid, revoked, or expired API key"})
		return
	}

	c.JSON(http.StatusOK, identity)
}
