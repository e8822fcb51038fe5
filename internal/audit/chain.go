package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"moneyflow/internal/model"
	"moneyflow/internal/storage"
)

// GenesisHash 创世节点的 prev_hash
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Chain 审计哈希链
//
// 哈希链本质上是串行的：每次追加都依赖链尾的 self_hash，
// 并发追加必须排队而不能交错，否则链就断了。
// mu 是进程内的串行点，临界区覆盖"读链尾 + 算哈希 + 写入"；
// 跨事务的竞争由存储层的序号唯一索引仲裁：两个事务读到同一个
// 已提交链尾时，后提交者以乐观锁冲突上抛，调用方有界重试排队
type Chain struct {
	mu sync.Mutex
}

func NewChain() *Chain {
	return &Chain{}
}

// AppendInput 一次追加的输入
type AppendInput struct {
	Actor      string
	ActionType string
	EntityType string
	EntityID   string
	Payload    interface{} // 结构化前后值，JSON 序列化后参与哈希
	Severity   string
	IPAddress  string
}

// Append 向链尾追加一个节点
// store 由调用方传入，引擎在提交事务内调用时传事务绑定的存储
func (c *Chain) Append(ctx context.Context, store storage.AuditStore, in AppendInput) (*model.AuditEntry, error) {
	payloadBytes, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("序列化审计负载失败: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取链尾失败: %w", err)
	}

	var sequence int64
	prevHash := GenesisHash
	if last != nil {
		sequence = last.Sequence + 1
		prevHash = last.SelfHash
	}

	entry := &model.AuditEntry{
		Sequence:   sequence,
		PrevHash:   prevHash,
		Actor:      in.Actor,
		ActionType: in.ActionType,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Payload:    string(payloadBytes),
		Severity:   in.Severity,
		IPAddress:  in.IPAddress,
		Timestamp:  time.Now().Truncate(time.Millisecond),
	}
	entry.SelfHash = computeHash(entry)

	if err := store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("追加审计节点失败: %w", err)
	}
	return entry, nil
}

// computeHash 从节点字段确定性地计算 self_hash
// 字符串字段带长度前缀：字段值里出现分隔符也拼不出相同的预像。
// 时间戳取毫秒级 Unix 值，经 DATETIME(3) 落库再读回后结果不变
func computeHash(e *model.AuditEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d", e.Sequence)
	for _, field := range []string{
		e.PrevHash,
		e.Actor,
		e.ActionType,
		e.EntityType,
		e.EntityID,
		e.Payload,
		e.Severity,
	} {
		fmt.Fprintf(h, "|%d:%s", len(field), field)
	}
	fmt.Fprintf(h, "|%d", e.Timestamp.UnixMilli())
	return hex.EncodeToString(h.Sum(nil))
}
