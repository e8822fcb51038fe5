package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"moneyflow/internal/model"
)

// 存储层哨兵错误，台账层据此区分"版本冲突"和"越界"
var (
	ErrAccountNotFound    = errors.New("账户不存在")
	ErrAccountInactive    = errors.New("账户已停用")
	ErrOptimisticLock     = errors.New("乐观锁冲突，请重试")
	ErrLimitExceeded      = errors.New("余额超出允许区间")
	ErrStatusInvalid      = errors.New("状态流转不合法")
	ErrRequestNotFound    = errors.New("收款请求不存在")
	ErrEventNotFound      = errors.New("集资活动不存在")
	ErrDuplicateRequestID = errors.New("幂等ID已存在")
)

// HistoryFilter 交易历史查询条件
type HistoryFilter struct {
	AccountID int64
	Kind      string    // 为空不限
	Since     time.Time // 零值不限
	Page      int
	PageSize  int
}

// AccountStore 账户存储契约
//
// ReserveAndApply 是唯一的余额变更入口：
//   - 版本号与 expectedVersion 不符 -> ErrOptimisticLock
//   - 变更后余额越出 [min, max]     -> ErrLimitExceeded
//
// 两种失败都不产生任何写入
type AccountStore interface {
	Create(ctx context.Context, account *model.Account) error
	GetByUserID(ctx context.Context, userID int64) (*model.Account, error)
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	ReserveAndApply(ctx context.Context, accountID int64, delta decimal.Decimal, expectedVersion int) (*model.Account, error)
}

// TransactionStore 交易流水存储契约
type TransactionStore interface {
	// Create 非空幂等ID全局唯一，重复写入返回 ErrDuplicateRequestID
	Create(ctx context.Context, trans *model.Transaction) error
	// GetByRequestID 幂等查询，未找到返回 (nil, nil)
	GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error)
	List(ctx context.Context, filter HistoryFilter) ([]*model.Transaction, int64, error)
	// ListBySenderSince 风控评分窗口查询，按时间升序返回
	ListBySenderSince(ctx context.Context, senderAccountID int64, since time.Time) ([]*model.Transaction, error)
}

// AuditStore 审计链存储契约，只追加
type AuditStore interface {
	Append(ctx context.Context, entry *model.AuditEntry) error
	// Last 返回当前链尾，空链返回 (nil, nil)
	Last(ctx context.Context) (*model.AuditEntry, error)
	// Range 按序号升序返回 [fromSeq, toSeq]；toSeq < 0 表示到链尾
	Range(ctx context.Context, fromSeq, toSeq int64) ([]*model.AuditEntry, error)
}

// RequestStore 收款请求存储契约
type RequestStore interface {
	Create(ctx context.Context, req *model.MoneyRequest) error
	GetByRequestNo(ctx context.Context, requestNo string) (*model.MoneyRequest, error)
	// UpdateStatus 带前置状态校验的 CAS 更新，前置不符返回 ErrStatusInvalid
	UpdateStatus(ctx context.Context, requestNo, fromStatus, toStatus string) error
	ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.MoneyRequest, int64, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.MoneyRequest, error)
}

// EventStore 集资活动存储契约
type EventStore interface {
	Create(ctx context.Context, event *model.EventAccount) error
	GetByEventNo(ctx context.Context, eventNo string) (*model.EventAccount, error)
	// AddContribution 仅对 OPEN 状态的活动累加，达到目标自动转 COMPLETED
	AddContribution(ctx context.Context, eventNo string, amount decimal.Decimal) (*model.EventAccount, error)
	UpdateStatus(ctx context.Context, eventNo, fromStatus, toStatus string) error
}

// OutboxStore 发件箱存储契约
type OutboxStore interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
	GetPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
	IncrementRetry(ctx context.Context, id int64) error
}

// Stores 聚合存储契约
// Atomic 内的所有写入要么全部可见、要么全部不可见；
// 台账引擎的提交阶段（扣款、入账、流水、审计、发件箱）必须在 Atomic 内执行
type Stores interface {
	Accounts() AccountStore
	Transactions() TransactionStore
	Audit() AuditStore
	Requests() RequestStore
	Events() EventStore
	Outbox() OutboxStore
	Atomic(ctx context.Context, fn func(Stores) error) error
}
