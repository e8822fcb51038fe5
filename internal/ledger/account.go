package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"moneyflow/internal/audit"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
)

// FundAccount 账户注资（外部发起的入账，如入职开户或工资充值）
// 不走风控评分——它不是员工的消费行为；不落交易流水——
// 注资不属于转账统计口径，只留审计节点。账户不存在时自动开户
func (e *Engine) FundAccount(ctx context.Context, userID int64, amount decimal.Decimal, ip string) (*model.Account, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	account, err := e.stores.Accounts().GetByUserID(ctx, userID)
	if errors.Is(err, storage.ErrAccountNotFound) {
		account = &model.Account{
			UserID:  userID,
			Balance: decimal.Zero,
			Active:  true,
		}
		if err := e.stores.Accounts().Create(ctx, account); err != nil {
			return nil, fmt.Errorf("开户失败: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}

	var funded *model.Account
	err = WithRetry(e.cfg.Ledger.MaxRetries, func() error {
		current, err := e.stores.Accounts().GetByID(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("查询账户失败: %w", err)
		}

		before := current.Balance
		return e.stores.Atomic(ctx, func(st storage.Stores) error {
			updated, err := st.Accounts().ReserveAndApply(ctx, current.ID, amount, current.Version)
			if err != nil {
				if errors.Is(err, storage.ErrLimitExceeded) {
					return NewError(CodeLimitExceeded, "注资后余额将超出上限")
				}
				return err
			}
			funded = updated

			_, err = e.chain.Append(ctx, st.Audit(), audit.AppendInput{
				Actor:      model.AuditActorSystem,
				ActionType: ActionAccountFunded,
				EntityType: EntityAccount,
				EntityID:   strconv.FormatInt(current.ID, 10),
				Payload: map[string]interface{}{
					"user_id": userID,
					"amount":  amount,
					"before":  before,
					"after":   before.Add(amount),
				},
				Severity:  model.AuditSeverityInfo,
				IPAddress: ip,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[LedgerEngine] 注资成功: userID=%d, amount=%s, balance=%s",
		userID, amount.StringFixed(2), funded.Balance.StringFixed(2))
	return funded, nil
}

// GetBalance 查询用户余额
func (e *Engine) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	account, err := e.accountByUserID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// GetAccount 查询用户账户
func (e *Engine) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return e.accountByUserID(ctx, userID)
}

// GetTransactionHistory 查询交易历史（收付双向），支持类型和时间过滤
func (e *Engine) GetTransactionHistory(ctx context.Context, userID int64, kind string, since time.Time,
	page, pageSize int) ([]*model.Transaction, int64, error) {

	account, err := e.accountByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	transactions, total, err := e.stores.Transactions().List(ctx, storage.HistoryFilter{
		AccountID: account.ID,
		Kind:      kind,
		Since:     since,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("查询交易历史失败: %w", err)
	}
	return transactions, total, nil
}
