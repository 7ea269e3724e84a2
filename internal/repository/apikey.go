package repository

import (
	"context"
	"time"

	"github.com/datht30102002/keygate/internal/models"
	"github.com/datht30102002/keygate/internal/storage"
	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *storage.Postgres
}

func NewAPIKeyRepository(db *storage.Postgres) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	return r.db.DB.WithContext(ctx).Create(apiKey).Error
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ?", hash).
		First(&apiKey).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

func (r *APIKeyRepository) FindByOwnerAndHash(ctx context.Context, ownerID, hash string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ? AND owner_id = ?", hash, ownerID).
		First(&apiKey).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// FindByOwner returns all of the owner's keys, most recently used first.
func (r *APIKeyRepository) FindByOwner(ctx context.Context, ownerID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_used_at DESC").
		Find(&keys).Error

	return keys, err
}

func (r *APIKeyRepository) Update(ctx context.Context, hash string, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("key_hash = ?", hash).
		Updates(updates).Error
}

// UpdateUsage bumps the usage counter and last-used timestamp in a single
// statement so concurrent validations never lose increments to each other.
// A missing row is not an error; the key may have been deleted since the
// validation that queued this update.
func (r *APIKeyRepository) UpdateUsage(ctx context.Context, hash string) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("key_hash = ?", hash).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": time.Now().UTC(),
		}).Error
}
