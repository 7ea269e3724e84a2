package repository

import (
	"context"
	"time"

	"github.com/datht30102002/keygate/internal/models"
	"github.com/datht30102002/keygate/internal/storage"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

func (r *RequestLogRepository) CountByStatusCodeRange(ctx context.Context, minStatus, maxStatus int, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Where("status_code BETWEEN ? AND ?", minStatus, maxStatus).
		Count(&count).Error

	return count, err
}

func (r *RequestLogRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg *float64
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("AVG(response_time_ms)").
		Scan(&avg).Error

	if err != nil || avg == nil {
		return 0, err
	}
	return *avg, nil
}

func (r *RequestLogRepository) GetTopEndpoints(ctx context.Context, from, to time.Time, limit int) ([]map[string]interface{}, error) {
	var results []map[string]interface{}
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("path, COUNT(*) as count").
		Group("path").
		Order("count DESC").
		Limit(limit).
		Find(&results).Error

	return results, err
}

// GetKeyStats aggregates request volume for a single API key.
func (r *RequestLogRepository) GetKeyStats(ctx context.Context, keyHash string, from, to time.Time) (int64, float64, error) {
	var stats struct {
		Count int64
		Avg   *float64
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("api_key_hash = ?", keyHash).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COUNT(*) as count, AVG(response_time_ms) as avg").
		Scan(&stats).Error

	if err != nil {
		return 0, 0, err
	}

	avg := 0.0
	if stats.Avg != nil {
		avg = *stats.Avg
	}
	return stats.Count, avg, nil
}

func (r *RequestLogRepository) GetLogs(ctx context.Context, from, to time.Time, statusCode *int, limit, offset int) ([]models.RequestLog, error) {
	var logs []models.RequestLog

	query := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC")

	if statusCode != nil {
		query = query.Where("status_code = ?", *statusCode)
	}

	err := query.Limit(limit).Offset(offset).Find(&logs).Error
	return logs, err
}
