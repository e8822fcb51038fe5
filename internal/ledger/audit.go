package ledger

import (
	"context"
	"fmt"

	"moneyflow/internal/audit"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
)

// VerifyAudit 校验审计链完整性，toSeq < 0 表示校验到链尾
func (e *Engine) VerifyAudit(ctx context.Context, fromSeq, toSeq int64) (*audit.Report, error) {
	return e.chain.VerifyIntegrity(ctx, e.stores.Audit(), fromSeq, toSeq)
}

// AppendAudit 供邻接子系统（如通知触发器）记录自己的动作
// 走同一条链、同一个串行点，外部动作和台账动作在链上全序排列
func (e *Engine) AppendAudit(ctx context.Context, in audit.AppendInput) (*model.AuditEntry, error) {
	var entry *model.AuditEntry
	err := WithRetry(e.cfg.Ledger.MaxRetries, func() error {
		return e.stores.Atomic(ctx, func(st storage.Stores) error {
			var err error
			entry, err = e.chain.Append(ctx, st.Audit(), in)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AuditEntries 按序号区间读取审计链
func (e *Engine) AuditEntries(ctx context.Context, fromSeq, toSeq int64) ([]*model.AuditEntry, error) {
	entries, err := e.stores.Audit().Range(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("读取审计链失败: %w", err)
	}
	return entries, nil
}
