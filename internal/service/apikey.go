package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/datht30102002/keygate/internal/config"
	"github.com/datht30102002/keygate/internal/models"
	"github.com/datht30102002/keygate/internal/storage"
	"gorm.io/gorm"
)

var (
	ErrKeyNotFound       = errors.New("api key not found")
	ErrKeyGeneration     = errors.New("failed to generate a unique api key")
	ErrInvalidExpiration = errors.New("invalid expiration date")
)

// keyCacheTTL bounds how long a validated record may be served from redis
// before the database is consulted again. Revocation and renewal invalidate
// the entry immediately; expiration is re-checked on every validation.
const keyCacheTTL = 5 * time.Minute

// KeyStore is the persistence contract the service needs. It is implemented
// by repository.APIKeyRepository; tests substitute an in-memory store.
type KeyStore interface {
	Create(ctx context.Context, apiKey *models.APIKey) error
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	FindByOwnerAndHash(ctx context.Context, ownerID, hash string) (*models.APIKey, error)
	FindByOwner(ctx context.Context, ownerID string) ([]models.APIKey, error)
	Update(ctx context.Context, hash string, updates map[string]interface{}) error
	UpdateUsage(ctx context.Context, hash string) error
}

// KeyIdentity is what a successful validation exposes to callers. It carries
// the owning account, the grants attached at issuance, and the last-used
// timestamp as it was before this validation's usage update.
type KeyIdentity struct {
	OwnerID    string                 `json:"owner_id"`
	Name       string                 `json:"name"`
	Roles      []string               `json:"roles"`
	Config     map[string]interface{} `json:"config"`
	LastUsedAt *time.Time             `json:"last_used_at,omitempty"`
}

type APIKeyService struct {
	store KeyStore
	redis *storage.RedisClient
	usage *UsageTracker
	cfg   *config.APIKeyConfig
}

func NewAPIKeyService(store KeyStore, redis *storage.RedisClient, usage *UsageTracker, cfg *config.APIKeyConfig) *APIKeyService {
	return &APIKeyService{
		store: store,
		redis: redis,
		usage: usage,
		cfg:   cfg,
	}
}

// HashKey computes the stored representation of a plaintext key. Keys are
// high-entropy random strings, so a plain SHA-256 digest is sufficient and
// keeps lookups a single indexed equality match.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Issue mints a new API key for the owner and returns the plaintext. This is
// the only place the plaintext is ever observable; it cannot be recovered
// from storage, and a lost key must be replaced by issuing a new one.
func (s *APIKeyService) Issue(ctx context.Context, ownerID, name string, neverExpires bool, roles []string, keyConfig map[string]interface{}) (string, error) {
	// One retry on a hash collision. With 256 bits of randomness a
	// collision means the entropy source is broken, so a second failure
	// is fatal.
	for attempt := 0; attempt < 2; attempt++ {
		plaintext, err := generateKey()
		if err != nil {
			return "", err
		}

		now := time.Now().UTC()
		expiresAt := now.Add(time.Duration(s.cfg.DefaultTTLHours) * time.Hour)

		apiKey := models.APIKey{
			KeyHash:      HashKey(plaintext),
			Name:         name,
			OwnerID:      ownerID,
			IsActive:     true,
			NeverExpires: neverExpires,
			ExpiresAt:    &expiresAt,
			LastUsedAt:   &now,
			UsageCount:   0,
			Roles:        roles,
			Config:       keyConfig,
		}

		err = s.store.Create(ctx, &apiKey)
		if err == nil {
			return plaintext, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", fmt.Errorf("failed to create API key: %w", err)
		}
	}

	return "", ErrKeyGeneration
}

// Validate checks a presented plaintext key and returns its identity, or
// (nil, nil) when the key is unknown, revoked, or expired. Those three causes
// are deliberately indistinguishable to the caller. A successful validation
// queues a usage update and returns without waiting for it.
func (s *APIKeyService) Validate(ctx context.Context, plaintext string) (*KeyIdentity, error) {
	hash := HashKey(plaintext)

	apiKey, err := s.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil || !apiKey.ValidAt(time.Now().UTC()) {
		return nil, nil
	}

	identity := &KeyIdentity{
		OwnerID:    apiKey.OwnerID,
		Name:       apiKey.Name,
		Roles:      apiKey.Roles,
		Config:     apiKey.Config,
		LastUsedAt: apiKey.LastUsedAt,
	}

	s.usage.Record(hash)

	return identity, nil
}

func (s *APIKeyService) lookup(ctx context.Context, hash string) (*models.APIKey, error) {
	cacheKey := "apikey:cache:" + hash

	if cached, err := s.redis.Get(ctx, cacheKey); err == nil && cached != "" {
		var apiKey models.APIKey
		if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
			return &apiKey, nil
		}
	}

	apiKey, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if data, err := json.Marshal(apiKey); err == nil {
		s.redis.Set(ctx, cacheKey, data, keyCacheTTL)
	}

	return apiKey, nil
}

// List returns all of the owner's key records, most recently used first.
func (s *APIKeyService) List(ctx context.Context, ownerID string) ([]models.APIKey, error) {
	return s.store.FindByOwner(ctx, ownerID)
}

// Revoke deactivates one of the owner's keys. A key that exists but belongs
// to a different owner is reported as not found.
func (s *APIKeyService) Revoke(ctx context.Context, ownerID, plaintext string) error {
	hash := HashKey(plaintext)

	apiKey, err := s.store.FindByOwnerAndHash(ctx, ownerID, hash)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return ErrKeyNotFound
	}

	if err := s.store.Update(ctx, hash, map[string]interface{}{"is_active": false}); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	s.invalidateCache(ctx, hash)
	return nil
}

// Renew reactivates one of the owner's keys and moves its expiration. When
// expirationDate (RFC 3339) is empty the default TTL is applied from now,
// unless the key never expires. The new expiration is returned, nil for
// never-expiring keys.
func (s *APIKeyService) Renew(ctx context.Context, ownerID, plaintext, expirationDate string) (*time.Time, error) {
	hash := HashKey(plaintext)

	apiKey, err := s.store.FindByOwnerAndHash(ctx, ownerID, hash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, ErrKeyNotFound
	}

	updates := map[string]interface{}{"is_active": true}

	var newExpiry *time.Time
	switch {
	case expirationDate != "":
		parsed, err := time.Parse(time.RFC3339, expirationDate)
		if err != nil {
			return nil, ErrInvalidExpiration
		}
		parsed = parsed.UTC()
		newExpiry = &parsed
		updates["expires_at"] = parsed
		updates["never_expires"] = false
	case !apiKey.NeverExpires:
		expiry := time.Now().UTC().Add(time.Duration(s.cfg.DefaultTTLHours) * time.Hour)
		newExpiry = &expiry
		updates["expires_at"] = expiry
	}

	if err := s.store.Update(ctx, hash, updates); err != nil {
		return nil, fmt.Errorf("failed to renew API key: %w", err)
	}

	s.invalidateCache(ctx, hash)
	return newExpiry, nil
}

func (s *APIKeyService) invalidateCache(ctx context.Context, hash string) {
	s.redis.Del(ctx, "apikey:cache:"+hash)
}

// generateKey produces the plaintext form of a new key: a recognizable
// prefix over 32 bytes from crypto/rand.
func generateKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return "ak_" + base64.URLEncoding.EncodeToString(keyBytes), nil
}
