package model

import (
	"time"
)

// ============================================================================
// 审计链常量
// ============================================================================

const (
	AuditSeverityInfo     = "INFO"
	AuditSeverityWarning  = "WARNING"
	AuditSeverityCritical = "CRITICAL"

	// AuditActorSystem 后台任务等非用户操作的 actor 标识
	AuditActorSystem = "SYSTEM"
)

// ============================================================================
// 审计链节点实体
// ============================================================================

// AuditEntry 审计链节点表
// 哈希链式追加日志：每个节点的 self_hash 覆盖上一个节点的 self_hash，
// 篡改或删除任意历史节点会使其后所有节点的哈希校验失败
//
// 【重要】该表只允许追加，应用代码永远不更新、不删除
type AuditEntry struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Sequence   int64     `gorm:"uniqueIndex;not null" json:"sequence"`            // 严格递增序号
	PrevHash   string    `gorm:"type:char(64);not null" json:"prev_hash"`         // 上一节点 self_hash
	SelfHash   string    `gorm:"type:char(64);not null" json:"self_hash"`         // 本节点哈希
	Actor      string    `gorm:"type:varchar(64);index;not null" json:"actor"`    // 操作者（用户ID或 SYSTEM）
	ActionType string    `gorm:"type:varchar(64);not null" json:"action_type"`    // 动作类型，如 TRANSFER
	EntityType string    `gorm:"type:varchar(64);not null" json:"entity_type"`    // 实体类型，如 TRANSACTION
	EntityID   string    `gorm:"type:varchar(64);index;not null" json:"entity_id"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`               // 结构化前后值（JSON）
	Severity   string    `gorm:"type:varchar(16);not null" json:"severity"`
	IPAddress  string    `gorm:"type:varchar(64)" json:"ip_address"`
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`                 // 参与哈希，毫秒精度
}

func (AuditEntry) TableName() string {
	return "audit_entry"
}
