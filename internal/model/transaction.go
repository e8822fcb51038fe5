package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型与状态常量
// ============================================================================

const (
	TransactionKindTransfer     = "TRANSFER"           // 员工间转账
	TransactionKindContribution = "EVENT_CONTRIBUTION" // 活动集资

	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// ============================================================================
// 交易流水实体
// ============================================================================

// Transaction 交易流水表
// 记录每一笔影响余额的事件，是对账和风控评分的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 终态（COMPLETED/FAILED）后不可变
// 2. 记录交易前后余额 —— 便于校验余额一致性
// 3. 被拒绝的交易（风控拦截）也落 FAILED 流水 —— 审计链反映"尝试"而不只是"成功"
type Transaction struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	RequestID          *string         `gorm:"type:varchar(64);uniqueIndex:uk_request_id" json:"request_id"` // 幂等ID，客户端可传；唯一索引兜底并发重复提交
	SenderAccountID    int64           `gorm:"index;not null" json:"sender_account_id"`                     // 付款账户
	RecipientAccountID *int64          `gorm:"index" json:"recipient_account_id"`                           // 收款账户（纯集资为空）
	EventNo            string          `gorm:"type:varchar(64);index" json:"event_no"`                      // 集资时关联的活动号
	Amount             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`                   // 金额（恒为正数）
	Kind               string          `gorm:"type:varchar(32);not null" json:"kind"`                       // 交易类型
	Status             string          `gorm:"type:varchar(20);index;not null" json:"status"`               // 交易状态
	Category           string          `gorm:"type:varchar(64)" json:"category"`                            // 自由分类标签
	Note               string          `gorm:"type:varchar(256)" json:"note"`                               // 备注
	BalanceBefore      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_before"`           // 付款方交易前余额
	BalanceAfter       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"balance_after"`            // 付款方交易后余额
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}
