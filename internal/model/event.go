package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventStatusOpen      = "OPEN"
	EventStatusCompleted = "COMPLETED" // 达到目标金额
	EventStatusClosed    = "CLOSED"    // 发起人手动关闭
)

// ValidEventTransitions 活动池的合法状态流转
var ValidEventTransitions = map[string][]string{
	EventStatusOpen: {EventStatusCompleted, EventStatusClosed},
}

func CanEventTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidEventTransitions[currentStatus]
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

// EventAccount 活动集资池表
// 多人向同一个池子凑钱，池子没有余额上限，但受目标金额和截止时间约束；
// 池子本身不是员工账户，入账只累加 collected
type EventAccount struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EventNo   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_no"`
	Name      string          `gorm:"type:varchar(128);not null" json:"name"`
	CreatorID int64           `gorm:"index;not null" json:"creator_id"`
	Target    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"target"`    // 目标金额
	Collected decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"collected"` // 已集金额
	Status    string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Deadline  time.Time       `gorm:"not null" json:"deadline"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EventAccount) TableName() string {
	return "event_account"
}
