package repository

import (
	"context"
	"errors"

	"moneyflow/internal/config"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountRepository struct {
	db  *gorm.DB
	cfg *config.LedgerConfig
}

func NewAccountRepository(db *gorm.DB, cfg *config.LedgerConfig) *AccountRepository {
	return &AccountRepository{db: db, cfg: cfg}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ReserveAndApply 条件 UPDATE 实现的乐观锁余额变更：
// 版本号、余额区间都写进 WHERE，任一不满足则零行命中，
// 再回读一次区分是版本冲突还是越界
func (r *AccountRepository) ReserveAndApply(ctx context.Context, accountID int64, delta decimal.Decimal, expectedVersion int) (*model.Account, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ? AND balance + ? >= ? AND balance + ? <= ?",
			accountID, expectedVersion, delta, r.cfg.Min(), delta, r.cfg.Max()).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if account.Version != expectedVersion {
			return nil, storage.ErrOptimisticLock
		}
		return nil, storage.ErrLimitExceeded
	}

	return r.GetByID(ctx, accountID)
}
