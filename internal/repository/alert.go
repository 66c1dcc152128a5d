package repository

import (
	"context"
	"time"

	"quota-gateway/internal/models"
	"quota-gateway/internal/storage"
)

type AlertRepository struct {
	db *storage.Postgres
}

func NewAlertRepository(db *storage.Postgres) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, alert *models.AlertRecord) error {
	return r.db.DB.WithContext(ctx).Create(alert).Error
}

func (r *AlertRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.AlertRecord, error) {
	var alerts []models.AlertRecord
	err := r.db.DB.WithContext(ctx).
		Where("created_at BETWEEN ? AND ?", from, to).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&alerts).Error

	return alerts, err
}

func (r *AlertRepository) FindByLevel(ctx context.Context, level string, from, to time.Time, limit, offset int) ([]models.AlertRecord, error) {
	var alerts []models.AlertRecord
	err := r.db.DB.WithContext(ctx).
		Where("level = ? AND created_at BETWEEN ? AND ?", level, from, to).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&alerts).Error

	return alerts, err
}

func (r *AlertRepository) DeleteOldAlerts(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.AlertRecord{})

	return result.RowsAffected, result.Error
}
