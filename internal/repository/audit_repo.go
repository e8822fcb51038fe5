package repository

import (
	"context"
	"errors"

	"moneyflow/internal/model"
	"moneyflow/internal/storage"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append 追加链上条目，序号唯一索引兜底防止并发写出分叉
//
// 链互斥锁只覆盖到本进程内的"读链尾 + 算哈希 + 写入"，两个并发
// 事务仍可能读到同一个已提交链尾、算出同一个序号；唯一索引让
// 后到者在这里失败，映射成乐观锁冲突交给上层的有界重试排队
func (r *AuditRepository) Append(ctx context.Context, entry *model.AuditEntry) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return storage.ErrOptimisticLock
	}
	return err
}

// Last 返回当前链尾，空链返回 (nil, nil)
func (r *AuditRepository) Last(ctx context.Context) (*model.AuditEntry, error) {
	var entry model.AuditEntry
	err := r.db.WithContext(ctx).Order("sequence DESC").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// Range 按序号升序返回 [fromSeq, toSeq]，toSeq < 0 表示到链尾
func (r *AuditRepository) Range(ctx context.Context, fromSeq, toSeq int64) ([]*model.AuditEntry, error) {
	query := r.db.WithContext(ctx).Where("sequence >= ?", fromSeq)
	if toSeq >= 0 {
		query = query.Where("sequence <= ?", toSeq)
	}

	var entries []*model.AuditEntry
	err := query.Order("sequence ASC").Find(&entries).Error
	return entries, err
}
