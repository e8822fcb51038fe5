package repository

import (
	"context"
	"errors"

	"moneyflow/internal/model"
	"moneyflow/internal/storage"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *model.EventAccount) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) GetByEventNo(ctx context.Context, eventNo string) (*model.EventAccount, error) {
	var event model.EventAccount
	err := r.db.WithContext(ctx).Where("event_no = ?", eventNo).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// AddContribution 仅对 OPEN 状态累加，达到目标自动转 COMPLETED
// 状态写进 WHERE：活动被并发关闭时零行命中，返回 ErrStatusInvalid
func (r *EventRepository) AddContribution(ctx context.Context, eventNo string, amount decimal.Decimal) (*model.EventAccount, error) {
	result := r.db.WithContext(ctx).
		Model(&model.EventAccount{}).
		Where("event_no = ? AND status = ?", eventNo, model.EventStatusOpen).
		Update("collected", gorm.Expr("collected + ?", amount))
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByEventNo(ctx, eventNo); err != nil {
			return nil, err
		}
		return nil, storage.ErrStatusInvalid
	}

	event, err := r.GetByEventNo(ctx, eventNo)
	if err != nil {
		return nil, err
	}

	if event.Status == model.EventStatusOpen && event.Collected.GreaterThanOrEqual(event.Target) {
		err = r.db.WithContext(ctx).
			Model(&model.EventAccount{}).
			Where("event_no = ? AND status = ?", eventNo, model.EventStatusOpen).
			Update("status", model.EventStatusCompleted).Error
		if err != nil {
			return nil, err
		}
		event.Status = model.EventStatusCompleted
	}

	return event, nil
}

func (r *EventRepository) UpdateStatus(ctx context.Context, eventNo, fromStatus, toStatus string) error {
	result := r.db.WithContext(ctx).
		Model(&model.EventAccount{}).
		Where("event_no = ? AND status = ?", eventNo, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByEventNo(ctx, eventNo); err != nil {
			return err
		}
		return storage.ErrStatusInvalid
	}

	return nil
}
