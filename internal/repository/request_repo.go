package repository

import (
	"context"
	"errors"
	"time"

	"moneyflow/internal/model"
	"moneyflow/internal/storage"

	"gorm.io/gorm"
)

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *model.MoneyRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *RequestRepository) GetByRequestNo(ctx context.Context, requestNo string) (*model.MoneyRequest, error) {
	var req model.MoneyRequest
	err := r.db.WithContext(ctx).Where("request_no = ?", requestNo).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// UpdateStatus 带前置状态的 CAS 更新
// 前置状态写进 WHERE，零行命中说明已被并发改走，返回 ErrStatusInvalid
func (r *RequestRepository) UpdateStatus(ctx context.Context, requestNo, fromStatus, toStatus string) error {
	result := r.db.WithContext(ctx).
		Model(&model.MoneyRequest{}).
		Where("request_no = ? AND status = ?", requestNo, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByRequestNo(ctx, requestNo); err != nil {
			return err
		}
		return storage.ErrStatusInvalid
	}

	return nil
}

func (r *RequestRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.MoneyRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.MoneyRequest{}).
		Where("requester_id = ? OR recipient_id = ?", userID, userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []*model.MoneyRequest
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&requests).Error

	return requests, total, err
}

// ListExpired 供后台清扫任务捞取已过期但仍 PENDING 的请求
func (r *RequestRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.MoneyRequest, error) {
	var requests []*model.MoneyRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.RequestStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}
