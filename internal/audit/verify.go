package audit

import (
	"context"
	"fmt"

	"moneyflow/internal/storage"
)

const (
	StatusOK          = "OK"
	StatusCompromised = "COMPROMISED"

	IssueHashMismatch  = "HASH_MISMATCH"  // self_hash 与字段重算结果不符
	IssueSequenceGap   = "SEQUENCE_GAP"   // 序号不连续，节点被删除
	IssueOrphanedEntry = "ORPHANED_ENTRY" // prev_hash 与前驱 self_hash 断链
)

// Issue 校验发现的单个问题
type Issue struct {
	Sequence int64  `json:"sequence"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
}

// Report 校验结果汇总
type Report struct {
	TotalChecked int     `json:"total_checked"`
	Status       string  `json:"status"`
	Issues       []Issue `json:"issues"`
}

// VerifyIntegrity 重算 [fromSeq, toSeq] 区间内每个节点的哈希并校验链接关系
// toSeq < 0 表示校验到链尾；发现问题只报告，绝不"自愈"
func (c *Chain) VerifyIntegrity(ctx context.Context, store storage.AuditStore, fromSeq, toSeq int64) (*Report, error) {
	entries, err := store.Range(ctx, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("读取审计链失败: %w", err)
	}

	report := &Report{
		TotalChecked: len(entries),
		Status:       StatusOK,
		Issues:       []Issue{},
	}

	for i, e := range entries {
		if computeHash(e) != e.SelfHash {
			report.Issues = append(report.Issues, Issue{
				Sequence: e.Sequence,
				Kind:     IssueHashMismatch,
				Detail:   "节点字段与存储的 self_hash 不一致",
			})
		}

		if i == 0 {
			// 从链头开始校验时，创世节点必须挂在 GenesisHash 上
			if e.Sequence == 0 && e.PrevHash != GenesisHash {
				report.Issues = append(report.Issues, Issue{
					Sequence: e.Sequence,
					Kind:     IssueOrphanedEntry,
					Detail:   "创世节点 prev_hash 非法",
				})
			}
			continue
		}

		prev := entries[i-1]
		if e.Sequence != prev.Sequence+1 {
			report.Issues = append(report.Issues, Issue{
				Sequence: e.Sequence,
				Kind:     IssueSequenceGap,
				Detail:   fmt.Sprintf("期望序号 %d，实际 %d", prev.Sequence+1, e.Sequence),
			})
			continue
		}
		if e.PrevHash != prev.SelfHash {
			report.Issues = append(report.Issues, Issue{
				Sequence: e.Sequence,
				Kind:     IssueOrphanedEntry,
				Detail:   "prev_hash 与前驱节点 self_hash 断链",
			})
		}
	}

	if len(report.Issues) > 0 {
		report.Status = StatusCompromised
	}
	return report, nil
}
