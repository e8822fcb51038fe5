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
	"moneyflow/internal/fraud"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
)

// ContributeInput 活动集资输入
type ContributeInput struct {
	ActorID   int64
	EventNo   string
	Amount    decimal.Decimal
	Note      string
	IPAddress string
}

// ContributeToEvent 向活动池集资
// 与转账同样的原子性和风控纪律：单边扣款，入账记在活动池的
// collected 上，池子没有余额上限，但必须处于 OPEN 且未过截止时间
func (e *Engine) ContributeToEvent(ctx context.Context, in ContributeInput) (*model.Transaction, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}

	var result *model.Transaction
	err := WithRetry(e.cfg.Ledger.MaxRetries, func() error {
		trans, err := e.attemptContribute(ctx, in)
		if err != nil {
			return err
		}
		result = trans
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[LedgerEngine] 集资成功: transactionNo=%s, contributor=%d, eventNo=%s, amount=%s",
		result.TransactionNo, in.ActorID, in.EventNo, in.Amount.StringFixed(2))
	return result, nil
}

func (e *Engine) attemptContribute(ctx context.Context, in ContributeInput) (*model.Transaction, error) {
	now := time.Now()
	actor := strconv.FormatInt(in.ActorID, 10)

	contributor, err := e.accountByUserID(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}

	event, err := e.stores.Events().GetByEventNo(ctx, in.EventNo)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, NewError(CodeNotFound, "集资活动不存在")
		}
		return nil, fmt.Errorf("查询集资活动失败: %w", err)
	}
	if event.Status != model.EventStatusOpen || now.After(event.Deadline) {
		return nil, NewError(CodeEventClosed, "集资活动已结束")
	}

	if contributor.Balance.Sub(in.Amount).LessThan(e.cfg.Ledger.Min()) {
		e.auditRejection(ctx, actor, ActionContributionRejected, CodeInsufficientFunds, in.IPAddress, contributor,
			in.Amount, map[string]interface{}{"event_no": in.EventNo})
		return nil, NewError(CodeInsufficientFunds, "余额不足")
	}

	window, err := e.stores.Transactions().ListBySenderSince(ctx, contributor.ID, e.scorer.WindowStart(now))
	if err != nil {
		return nil, fmt.Errorf("查询评分窗口失败: %w", err)
	}
	assessment := e.scorer.Score(window, fraud.Candidate{
		SenderAccountID: contributor.ID,
		Amount:          in.Amount,
	}, now)

	if assessment.Decision == fraud.DecisionBlock {
		return nil, e.blockTransaction(ctx, actor, ActionContributionBlocked, in.IPAddress, assessment,
			e.newTransaction("", contributor, nil, in.EventNo, in.Amount, model.TransactionKindContribution,
				model.TransactionStatusFailed, "", in.Note))
	}

	severity := model.AuditSeverityInfo
	if assessment.Decision == fraud.DecisionReview {
		severity = model.AuditSeverityWarning
	}

	trans := e.newTransaction("", contributor, nil, in.EventNo, in.Amount, model.TransactionKindContribution,
		model.TransactionStatusCompleted, "", in.Note)

	err = e.stores.Atomic(ctx, func(st storage.Stores) error {
		newContributor, err := st.Accounts().ReserveAndApply(ctx, contributor.ID, in.Amount.Neg(), contributor.Version)
		if err != nil {
			if errors.Is(err, storage.ErrLimitExceeded) {
				return errDebitLimit
			}
			return err
		}

		updated, err := st.Events().AddContribution(ctx, in.EventNo, in.Amount)
		if err != nil {
			// 入账腿失败，补偿扣款
			if _, cerr := st.Accounts().ReserveAndApply(ctx, contributor.ID, in.Amount, newContributor.Version); cerr != nil {
				return fmt.Errorf("补偿扣款失败: %w", cerr)
			}
			if errors.Is(err, storage.ErrStatusInvalid) {
				return NewError(CodeEventClosed, "集资活动已结束")
			}
			return err
		}

		if err := st.Transactions().Create(ctx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		if _, err := e.chain.Append(ctx, st.Audit(), audit.AppendInput{
			Actor:      actor,
			ActionType: ActionContribution,
			EntityType: EntityTransaction,
			EntityID:   trans.TransactionNo,
			Payload: map[string]interface{}{
				"event_no":           in.EventNo,
				"amount":             in.Amount,
				"contributor_before": contributor.Balance,
				"contributor_after":  contributor.Balance.Sub(in.Amount),
				"event_collected":    updated.Collected,
				"event_status":       updated.Status,
				"risk":               assessment,
			},
			Severity:  severity,
			IPAddress: in.IPAddress,
		}); err != nil {
			return err
		}

		return e.enqueueOutbox(ctx, st, trans)
	})

	switch {
	case err == nil:
		return trans, nil
	case errors.Is(err, errDebitLimit):
		e.auditRejection(ctx, actor, ActionContributionRejected, CodeInsufficientFunds, in.IPAddress, contributor,
			in.Amount, map[string]interface{}{"event_no": in.EventNo})
		return nil, NewError(CodeInsufficientFunds, "余额不足")
	default:
		return nil, err
	}
}
