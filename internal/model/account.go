package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 员工账户表
// 单币种账户，余额允许在 [min_balance, max_balance] 区间内有限透支，
// 区间边界由配置注入，不落表
type Account struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64           `gorm:"uniqueIndex;not null" json:"user_id"`        // 用户ID，身份层传入
	Balance   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance"` // 余额（两位小数定点数）
	Version   int             `gorm:"not null;default:0" json:"version"`          // 乐观锁版本号
	Active    bool            `gorm:"not null;default:true" json:"active"`        // 账户只停用，不删除
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
