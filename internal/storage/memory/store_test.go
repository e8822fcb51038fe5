package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyflow/internal/config"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	return NewStore(&cfg.Ledger)
}

func seedAccount(t *testing.T, s *Store, userID int64, balance string) *model.Account {
	t.Helper()
	account := &model.Account{
		UserID:  userID,
		Balance: dec(balance),
		Active:  true,
	}
	require.NoError(t, s.Accounts().Create(context.Background(), account))
	return account
}

func TestAccountCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := seedAccount(t, s, 1001, "100.00")
	assert.NotZero(t, created.ID)

	got, err := s.Accounts().GetByUserID(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.Balance.Equal(dec("100.00")))

	_, err = s.Accounts().GetByUserID(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestReserveAndApply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, 1001, "100.00")

	updated, err := s.Accounts().ReserveAndApply(ctx, account.ID, dec("-30.00"), 0)
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(dec("70.00")))
	assert.Equal(t, 1, updated.Version)
}

func TestReserveAndApplyVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, 1001, "100.00")

	_, err := s.Accounts().ReserveAndApply(ctx, account.ID, dec("-10.00"), 0)
	require.NoError(t, err)

	// 带着过期的版本号再来一次，必须失败且余额不动
	_, err = s.Accounts().ReserveAndApply(ctx, account.ID, dec("-10.00"), 0)
	assert.ErrorIs(t, err, storage.ErrOptimisticLock)

	got, err := s.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("90.00")))
	assert.Equal(t, 1, got.Version)
}

func TestReserveAndApplyLimits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, 1001, "100.00")

	// 下限 -250：100 - 400 = -300 越界
	_, err := s.Accounts().ReserveAndApply(ctx, account.ID, dec("-400.00"), 0)
	assert.ErrorIs(t, err, storage.ErrLimitExceeded)

	// 上限 250：100 + 200 = 300 越界
	_, err = s.Accounts().ReserveAndApply(ctx, account.ID, dec("200.00"), 0)
	assert.ErrorIs(t, err, storage.ErrLimitExceeded)

	// 越界失败不消耗版本号
	got, err := s.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Version)
	assert.True(t, got.Balance.Equal(dec("100.00")))

	// 贴着边界则允许
	updated, err := s.Accounts().ReserveAndApply(ctx, account.ID, dec("-350.00"), 0)
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(dec("-250.00")))
}

func TestReserveAndApplyInactiveAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := &model.Account{UserID: 1001, Balance: dec("50.00"), Active: false}
	require.NoError(t, s.Accounts().Create(ctx, account))

	_, err := s.Accounts().ReserveAndApply(ctx, account.ID, dec("10.00"), 0)
	assert.ErrorIs(t, err, storage.ErrAccountInactive)
}

func TestRequestStatusCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := &model.MoneyRequest{
		RequestNo:   "REQ001",
		RequesterID: 1,
		RecipientID: 2,
		Amount:      dec("20.00"),
		Status:      model.RequestStatusPending,
	}
	require.NoError(t, s.Requests().Create(ctx, req))

	err := s.Requests().UpdateStatus(ctx, "REQ001", model.RequestStatusPending, model.RequestStatusApproved)
	require.NoError(t, err)

	// 终态不可再流转
	err = s.Requests().UpdateStatus(ctx, "REQ001", model.RequestStatusApproved, model.RequestStatusDeclined)
	assert.ErrorIs(t, err, storage.ErrStatusInvalid)

	// 前置状态不符
	err = s.Requests().UpdateStatus(ctx, "REQ001", model.RequestStatusPending, model.RequestStatusDeclined)
	assert.ErrorIs(t, err, storage.ErrStatusInvalid)
}

func TestEventAddContribution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	event := &model.EventAccount{
		EventNo:   "EVT001",
		Name:      "团建基金",
		CreatorID: 1,
		Target:    dec("100.00"),
		Collected: decimal.Zero,
		Status:    model.EventStatusOpen,
	}
	require.NoError(t, s.Events().Create(ctx, event))

	updated, err := s.Events().AddContribution(ctx, "EVT001", dec("40.00"))
	require.NoError(t, err)
	assert.True(t, updated.Collected.Equal(dec("40.00")))
	assert.Equal(t, model.EventStatusOpen, updated.Status)

	// 达到目标自动转 COMPLETED
	updated, err = s.Events().AddContribution(ctx, "EVT001", dec("60.00"))
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusCompleted, updated.Status)

	// 终态活动不再接受集资
	_, err = s.Events().AddContribution(ctx, "EVT001", dec("1.00"))
	assert.ErrorIs(t, err, storage.ErrStatusInvalid)
}

func TestTransactionDuplicateRequestID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reqID := "client-42"

	first := &model.Transaction{
		TransactionNo:   "TXN001",
		RequestID:       &reqID,
		SenderAccountID: 1,
		Amount:          dec("10.00"),
		Kind:            model.TransactionKindTransfer,
		Status:          model.TransactionStatusCompleted,
	}
	require.NoError(t, s.Transactions().Create(ctx, first))

	// 同一幂等ID再写入必须被唯一性约束挡下
	dup := &model.Transaction{
		TransactionNo:   "TXN002",
		RequestID:       &reqID,
		SenderAccountID: 1,
		Amount:          dec("10.00"),
		Kind:            model.TransactionKindTransfer,
		Status:          model.TransactionStatusCompleted,
	}
	err := s.Transactions().Create(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicateRequestID)

	// 幂等ID为空的流水不受约束
	require.NoError(t, s.Transactions().Create(ctx, &model.Transaction{
		TransactionNo:   "TXN003",
		SenderAccountID: 1,
		Amount:          dec("5.00"),
		Kind:            model.TransactionKindTransfer,
		Status:          model.TransactionStatusCompleted,
	}))

	got, err := s.Transactions().GetByRequestID(ctx, reqID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TXN001", got.TransactionNo)
}

func TestReadsReturnDetachedCopies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reqID := "client-7"

	require.NoError(t, s.Transactions().Create(ctx, &model.Transaction{
		TransactionNo:   "TXN001",
		RequestID:       &reqID,
		SenderAccountID: 1,
		Amount:          dec("10.00"),
		Kind:            model.TransactionKindTransfer,
		Status:          model.TransactionStatusCompleted,
	}))
	require.NoError(t, s.Audit().Append(ctx, &model.AuditEntry{
		Sequence: 0, PrevHash: "p", SelfHash: "h",
		Actor: "1", ActionType: "TRANSFER", EntityType: "TRANSACTION",
		EntityID: "TXN001", Payload: "{}", Severity: model.AuditSeverityInfo,
	}))
	require.NoError(t, s.Outbox().Create(ctx, &model.OutboxMessage{
		MessageKey: "TXN001", Topic: "t", Payload: "{}",
	}))

	// 改写读出来的值不能穿透到存储内部
	trans, err := s.Transactions().GetByRequestID(ctx, reqID)
	require.NoError(t, err)
	trans.Status = model.TransactionStatusFailed

	last, err := s.Audit().Last(ctx)
	require.NoError(t, err)
	last.Payload = `{"amount":999999}`

	pending, err := s.Outbox().GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	pending[0].Status = model.OutboxStatusSent

	trans, err = s.Transactions().GetByRequestID(ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, trans.Status)

	last, err = s.Audit().Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{}", last.Payload)

	pending, err = s.Outbox().GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestAtomicMutualExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, 1001, "0.00")

	// Atomic 内部视图可以继续读写，不会自我死锁
	err := s.Atomic(ctx, func(st storage.Stores) error {
		if _, err := st.Accounts().ReserveAndApply(ctx, account.ID, dec("10.00"), 0); err != nil {
			return err
		}
		_, err := st.Accounts().ReserveAndApply(ctx, account.ID, dec("5.00"), 1)
		return err
	})
	require.NoError(t, err)

	got, err := s.Accounts().GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("15.00")))
}
