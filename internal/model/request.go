package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RequestStatusPending   = "PENDING"
	RequestStatusApproved  = "APPROVED"
	RequestStatusDeclined  = "DECLINED"
	RequestStatusExpired   = "EXPIRED"
	RequestStatusCancelled = "CANCELLED"
)

// ValidRequestTransitions 收款请求的合法状态流转
// PENDING 之外的状态全部是终态
var ValidRequestTransitions = map[string][]string{
	RequestStatusPending: {
		RequestStatusApproved,
		RequestStatusDeclined,
		RequestStatusExpired,
		RequestStatusCancelled,
	},
}

func CanRequestTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidRequestTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// MoneyRequest 收款请求表
// requester 向 recipient 发起收款；recipient 同意后由台账引擎执行
// recipient -> requester 的转账，本表自身从不直接动余额
type MoneyRequest struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"`
	RequesterID int64           `gorm:"index;not null" json:"requester_id"` // 收款人（发起方）
	RecipientID int64           `gorm:"index;not null" json:"recipient_id"` // 付款人（被请求方）
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Note        string          `gorm:"type:varchar(256)" json:"note"`
	Status      string          `gorm:"type:varchar(20);index;not null" json:"status"`
	ExpiresAt   time.Time       `gorm:"not null;index" json:"expires_at"` // 默认 +7 天，上限 +30 天
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MoneyRequest) TableName() string {
	return "money_request"
}

// Expired 请求是否已过期（懒求值，读取时判断）
func (r *MoneyRequest) Expired(now time.Time) bool {
	return r.Status == RequestStatusPending && now.After(r.ExpiresAt)
}
