package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"moneyflow/internal/model"
	"moneyflow/internal/storage"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, trans *model.Transaction) error {
	err := r.db.WithContext(ctx).Create(trans).Error
	// 幂等ID唯一索引兜底：并发提交同一 request_id 时后到者在这里失败，
	// 事务回滚后由台账层改走重放路径
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 && strings.Contains(mysqlErr.Message, "uk_request_id") {
		return storage.ErrDuplicateRequestID
	}
	return err
}

// GetByRequestID 幂等查询，未找到返回 (nil, nil)
func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) List(ctx context.Context, filter storage.HistoryFilter) ([]*model.Transaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("sender_account_id = ? OR recipient_account_id = ?", filter.AccountID, filter.AccountID)

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var transactions []*model.Transaction
	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(filter.PageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListBySenderSince 风控评分窗口查询，按时间升序返回
func (r *TransactionRepository) ListBySenderSince(ctx context.Context, senderAccountID int64, since time.Time) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("sender_account_id = ? AND created_at >= ?", senderAccountID, since).
		Order("created_at ASC").
		Find(&transactions).Error
	return transactions, err
}
