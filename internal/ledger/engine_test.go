package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyflow/internal/audit"
	"moneyflow/internal/config"
	"moneyflow/internal/fraud"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
	"moneyflow/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *memory.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	store := memory.NewStore(&cfg.Ledger)
	engine := NewEngine(store, audit.NewChain(), fraud.NewScorer(cfg.Fraud), cfg)
	return engine, store
}

func fund(t *testing.T, e *Engine, userID int64, amount string) {
	t.Helper()
	_, err := e.FundAccount(context.Background(), userID, dec(amount), "127.0.0.1")
	require.NoError(t, err)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	le, ok := AsError(err)
	require.True(t, ok, "期望业务错误，实际: %v", err)
	assert.Equal(t, code, le.Code)
}

func lastAuditEntry(t *testing.T, store *memory.Store) *model.AuditEntry {
	t.Helper()
	entries, err := store.Audit().Range(context.Background(), 0, -1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

func TestTransferHappyPath(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "50.00")

	trans, err := e.Transfer(ctx, TransferInput{
		ActorID:     1,
		RecipientID: 2,
		Amount:      dec("30.00"),
		Category:    "lunch",
		Note:        "拼饭",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, trans.Status)
	assert.True(t, trans.BalanceBefore.Equal(dec("100.00")))
	assert.True(t, trans.BalanceAfter.Equal(dec("70.00")))

	senderBalance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, senderBalance.Equal(dec("70.00")))

	recipientBalance, err := e.GetBalance(ctx, 2)
	require.NoError(t, err)
	assert.True(t, recipientBalance.Equal(dec("80.00")))

	// 审计链上有对应节点且完整
	entry := lastAuditEntry(t, store)
	assert.Equal(t, ActionTransfer, entry.ActionType)
	assert.Equal(t, trans.TransactionNo, entry.EntityID)

	report, err := e.VerifyAudit(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusOK, report.Status)

	// 发件箱里有待投递的交易事件
	pending, err := store.Outbox().GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, trans.TransactionNo, pending[0].MessageKey)
}

func TestTransferAllowsBoundedOverdraft(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	// 100 - 200 = -100，在 [-250, 250] 区间内，允许透支
	_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("200.00")})
	require.NoError(t, err)

	balance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("-100.00")))
}

func TestTransferInsufficientFunds(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	// 100 - 400 = -300，越过透支下限
	_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("400.00")})
	requireCode(t, err, CodeInsufficientFunds)

	// 双方余额不动
	balance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100.00")))

	// 拒绝留痕：WARNING 审计节点，但不落流水
	entry := lastAuditEntry(t, store)
	assert.Equal(t, ActionTransferRejected, entry.ActionType)
	assert.Equal(t, model.AuditSeverityWarning, entry.Severity)

	history, total, err := e.GetTransactionHistory(ctx, 1, "", time.Time{}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, history)
}

func TestTransferRecipientLimit(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "200.00")

	// 200 + 60 = 260 越过收款方上限
	_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("60.00")})
	requireCode(t, err, CodeRecipientLimit)

	balance, err := e.GetBalance(ctx, 2)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("200.00")))

	entry := lastAuditEntry(t, store)
	assert.Equal(t, ActionTransferRejected, entry.ActionType)
}

func TestTransferSelfForbidden(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	fund(t, e, 1, "100.00")

	_, err := e.Transfer(context.Background(), TransferInput{ActorID: 1, RecipientID: 1, Amount: dec("10.00")})
	requireCode(t, err, CodeSelfTransfer)
}

func TestTransferValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("-5.00")})
	requireCode(t, err, CodeValidation)

	_, err = e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("1.999")})
	requireCode(t, err, CodeValidation)

	_, err = e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 999, Amount: dec("5.00")})
	requireCode(t, err, CodeAccountNotFound)
}

func TestTransferIdempotentReplay(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	first, err := e.Transfer(ctx, TransferInput{
		ActorID: 1, RecipientID: 2, Amount: dec("20.00"), RequestID: "client-42",
	})
	require.NoError(t, err)

	// 同一幂等ID重放：返回原流水，余额只动一次
	second, err := e.Transfer(ctx, TransferInput{
		ActorID: 1, RecipientID: 2, Amount: dec("20.00"), RequestID: "client-42",
	})
	require.NoError(t, err)
	assert.Equal(t, first.TransactionNo, second.TransactionNo)

	balance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("80.00")))
}

func TestTransferIdempotentUnderConcurrency(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.MaxRetries = 100
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	const n = 8
	var wg sync.WaitGroup
	results := make([]*model.Transaction, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Transfer(ctx, TransferInput{
				ActorID: 1, RecipientID: 2, Amount: dec("20.00"), RequestID: "client-dup",
			})
		}(i)
	}
	wg.Wait()

	// 同一幂等ID并发提交：钱只扣一次，所有提交者拿到同一条流水
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].TransactionNo, results[i].TransactionNo)
	}

	balance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("80.00")))

	history, total, err := e.GetTransactionHistory(ctx, 1, "", time.Time{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, history, 1)
}

// flakyAuditStores 让审计追加先失败指定次数再放行，
// 模拟并发事务在序号唯一索引上撞车后上抛的乐观锁冲突
type flakyAuditStores struct {
	storage.Stores
	remaining *int
}

func (f *flakyAuditStores) Atomic(ctx context.Context, fn func(storage.Stores) error) error {
	return f.Stores.Atomic(ctx, func(st storage.Stores) error {
		return fn(&flakyAuditStores{Stores: st, remaining: f.remaining})
	})
}

func (f *flakyAuditStores) Audit() storage.AuditStore {
	return &flakyAuditStore{AuditStore: f.Stores.Audit(), remaining: f.remaining}
}

type flakyAuditStore struct {
	storage.AuditStore
	remaining *int
}

func (s *flakyAuditStore) Append(ctx context.Context, entry *model.AuditEntry) error {
	if *s.remaining > 0 {
		*s.remaining--
		return storage.ErrOptimisticLock
	}
	return s.AuditStore.Append(ctx, entry)
}

func TestRejectionAuditRetriesSequenceConflict(t *testing.T) {
	cfg := config.Default()
	store := memory.NewStore(&cfg.Ledger)
	remaining := 0
	e := NewEngine(&flakyAuditStores{Stores: store, remaining: &remaining},
		audit.NewChain(), fraud.NewScorer(cfg.Fraud), cfg)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	// 接下来两次追加撞序号，留痕必须重试到成功而不是静默丢弃
	remaining = 2
	_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("400.00")})
	requireCode(t, err, CodeInsufficientFunds)

	entry := lastAuditEntry(t, store)
	assert.Equal(t, ActionTransferRejected, entry.ActionType)
	assert.Equal(t, model.AuditSeverityWarning, entry.Severity)

	report, err := e.VerifyAudit(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusOK, report.Status)
}

func TestTransferFraudBlocked(t *testing.T) {
	cfg := config.Default()
	cfg.Fraud.BlockThreshold = 10 // 一个 RAPID_SUCCESSION 信号就触发拦截
	e, store := newTestEngine(t, cfg)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("10.00")})
	require.NoError(t, err)

	// 紧跟上一笔，评分达到阻断线
	_, err = e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("10.00")})
	requireCode(t, err, CodeFraudBlocked)

	// 余额停在第一笔之后
	balance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("90.00")))

	// 被拦截的尝试落 FAILED 流水 + CRITICAL 审计节点
	history, _, err := e.GetTransactionHistory(ctx, 1, "", time.Time{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.TransactionStatusFailed, history[0].Status)

	entry := lastAuditEntry(t, store)
	assert.Equal(t, ActionTransferBlocked, entry.ActionType)
	assert.Equal(t, model.AuditSeverityCritical, entry.Severity)
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.MaxRetries = 100
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	fund(t, e, 1, "200.00")
	fund(t, e, 2, "0.01")

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("1.00")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	senderBalance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	recipientBalance, err := e.GetBalance(ctx, 2)
	require.NoError(t, err)

	// 钱守恒：付出的等于收到的，总额不变
	assert.True(t, senderBalance.Equal(dec("200.00").Sub(decimal.NewFromInt(int64(succeeded)))))
	assert.True(t, recipientBalance.Equal(dec("0.01").Add(decimal.NewFromInt(int64(succeeded)))))
	assert.True(t, senderBalance.Add(recipientBalance).Equal(dec("200.01")))

	// 审计链在并发追加后依然完整
	report, err := e.VerifyAudit(ctx, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusOK, report.Status)
}

func TestFundAccountLimit(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "200.00")

	// 200 + 100 = 300 越过上限
	_, err := e.FundAccount(ctx, 1, dec("100.00"), "")
	requireCode(t, err, CodeLimitExceeded)

	balance, err := e.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("200.00")))
}

func TestContributeToEventLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "100.00")

	event, err := e.CreateEvent(ctx, CreateEventInput{
		ActorID:  1,
		Name:     "团建基金",
		Target:   dec("150.00"),
		Deadline: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusOpen, event.Status)

	trans, err := e.ContributeToEvent(ctx, ContributeInput{ActorID: 2, EventNo: event.EventNo, Amount: dec("80.00")})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionKindContribution, trans.Kind)
	assert.Nil(t, trans.RecipientAccountID)
	assert.Equal(t, event.EventNo, trans.EventNo)

	balance, err := e.GetBalance(ctx, 2)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("20.00")))

	// 达到目标自动转 COMPLETED，之后不再接受集资
	_, err = e.ContributeToEvent(ctx, ContributeInput{ActorID: 1, EventNo: event.EventNo, Amount: dec("70.00")})
	require.NoError(t, err)

	got, err := e.GetEvent(ctx, event.EventNo)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusCompleted, got.Status)
	assert.True(t, got.Collected.Equal(dec("150.00")))

	_, err = e.ContributeToEvent(ctx, ContributeInput{ActorID: 2, EventNo: event.EventNo, Amount: dec("1.00")})
	requireCode(t, err, CodeEventClosed)
}

func TestContributeValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")

	_, err := e.ContributeToEvent(ctx, ContributeInput{ActorID: 1, EventNo: "EVT-missing", Amount: dec("1.00")})
	requireCode(t, err, CodeNotFound)

	_, err = e.CreateEvent(ctx, CreateEventInput{
		ActorID:  1,
		Name:     "生日礼物",
		Target:   dec("100.00"),
		Deadline: time.Now().Add(-time.Hour), // 截止时间必须在将来
	})
	requireCode(t, err, CodeValidation)
}

func TestCloseEventPermissions(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "100.00")

	event, err := e.CreateEvent(ctx, CreateEventInput{
		ActorID:  1,
		Name:     "离职欢送",
		Target:   dec("100.00"),
		Deadline: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	// 非发起人不能关闭
	_, err = e.CloseEvent(ctx, 2, event.EventNo, "")
	requireCode(t, err, CodeForbidden)

	closed, err := e.CloseEvent(ctx, 1, event.EventNo, "")
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusClosed, closed.Status)

	// 已关闭的活动不能再关
	_, err = e.CloseEvent(ctx, 1, event.EventNo, "")
	requireCode(t, err, CodeInvalidStateTransition)

	_, err = e.ContributeToEvent(ctx, ContributeInput{ActorID: 2, EventNo: event.EventNo, Amount: dec("5.00")})
	requireCode(t, err, CodeEventClosed)
}

func TestTransactionHistoryFilters(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	fund(t, e, 1, "100.00")
	fund(t, e, 2, "0.01")

	_, err := e.Transfer(ctx, TransferInput{ActorID: 1, RecipientID: 2, Amount: dec("10.00")})
	require.NoError(t, err)

	event, err := e.CreateEvent(ctx, CreateEventInput{
		ActorID:  1,
		Name:     "下午茶",
		Target:   dec("50.00"),
		Deadline: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = e.ContributeToEvent(ctx, ContributeInput{ActorID: 1, EventNo: event.EventNo, Amount: dec("5.00")})
	require.NoError(t, err)

	// 不过滤：付款方视角两笔
	_, total, err := e.GetTransactionHistory(ctx, 1, "", time.Time{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// 按类型过滤
	transfers, total, err := e.GetTransactionHistory(ctx, 1, model.TransactionKindTransfer, time.Time{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, transfers, 1)
	assert.Equal(t, model.TransactionKindTransfer, transfers[0].Kind)

	// 收款方视角也能看到进账
	_, total, err = e.GetTransactionHistory(ctx, 2, "", time.Time{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
