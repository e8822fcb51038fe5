package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"moneyflow/internal/audit"
	"moneyflow/internal/config"
	"moneyflow/internal/fraud"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
	"moneyflow/pkg/idgen"
)

// ============================================================================
// 审计动作与实体常量
// ============================================================================

const (
	ActionTransfer             = "TRANSFER"
	ActionTransferRejected     = "TRANSFER_REJECTED"
	ActionTransferBlocked      = "TRANSFER_BLOCKED"
	ActionContribution         = "EVENT_CONTRIBUTION"
	ActionContributionRejected = "EVENT_CONTRIBUTION_REJECTED"
	ActionContributionBlocked  = "EVENT_CONTRIBUTION_BLOCKED"
	ActionAccountFunded        = "ACCOUNT_FUNDED"
	ActionEventCreated         = "EVENT_CREATED"
	ActionEventClosed          = "EVENT_CLOSED"

	EntityTransaction = "TRANSACTION"
	EntityAccount     = "ACCOUNT"
	EntityEvent       = "EVENT"
	EntityRequest     = "MONEY_REQUEST"
)

// 默认的交易事件 Topic，配置未指定时使用
const defaultTransactionTopic = "ledger.transaction"

// 提交阶段内部哨兵：回滚后用于区分被竞争挤掉的两种限额失败，
// 以及提交前发现幂等ID已有成功流水的重放路径
var (
	errDebitLimit       = errors.New("扣款腿越界")
	errCreditLimit      = errors.New("入账腿越界")
	errIdempotentReplay = errors.New("幂等重放")
)

// Engine 台账引擎
//
// 所有影响余额的操作的唯一入口。一次操作 = 校验 + 风控评分 +
// 余额变更 + 一条流水 + 一个审计节点（+ 一条发件箱消息），
// 提交阶段在 Stores.Atomic 内执行，对外要么全部生效要么全部不生效。
//
// 并发模型：不同账户的操作完全并行；同一账户靠存储层的版本号
// CAS 串行化，输掉竞争的一方由 WithRetry 从快照步骤整体重试
type Engine struct {
	stores storage.Stores
	chain  *audit.Chain
	scorer *fraud.Scorer
	cfg    *config.Config
}

func NewEngine(stores storage.Stores, chain *audit.Chain, scorer *fraud.Scorer, cfg *config.Config) *Engine {
	return &Engine{
		stores: stores,
		chain:  chain,
		scorer: scorer,
		cfg:    cfg,
	}
}

// TransferInput 转账输入
type TransferInput struct {
	ActorID     int64           // 付款人（身份层已认证）
	RecipientID int64           // 收款人
	Amount      decimal.Decimal
	Category    string
	Note        string
	RequestID   string // 幂等ID，可为空
	IPAddress   string
}

// Transfer 员工间转账
//
// 算法：快照双方账户 -> 校验区间 -> 风控评分 -> CAS 扣款/入账 ->
// 流水 + 审计 + 发件箱。任何一腿版本冲突都放弃本次尝试并从
// 快照步骤重试，重试耗尽返回 CONTENTION
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (*model.Transaction, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.ActorID == in.RecipientID {
		return nil, NewError(CodeSelfTransfer, "不能给自己转账")
	}

	// 幂等重放快速路径：同一 request_id 的成功转账直接返回原流水。
	// 并发提交同一幂等ID时这里可能都读到空，真正的防线在提交阶段：
	// Atomic 内再查一次，加上流水表的幂等ID唯一索引兜底
	if in.RequestID != "" {
		existing, err := e.stores.Transactions().GetByRequestID(ctx, in.RequestID)
		if err != nil {
			return nil, fmt.Errorf("幂等查询失败: %w", err)
		}
		if existing != nil && existing.Status == model.TransactionStatusCompleted {
			return existing, nil
		}
	}

	var result *model.Transaction
	err := WithRetry(e.cfg.Ledger.MaxRetries, func() error {
		trans, err := e.attemptTransfer(ctx, in)
		if err != nil {
			return err
		}
		result = trans
		return nil
	})
	if err != nil {
		// 输掉唯一索引竞争的提交整体回滚，改走重放：赢家的流水就是本次的结果
		if in.RequestID != "" && errors.Is(err, storage.ErrDuplicateRequestID) {
			existing, lerr := e.stores.Transactions().GetByRequestID(ctx, in.RequestID)
			if lerr == nil && existing != nil && existing.Status == model.TransactionStatusCompleted {
				return existing, nil
			}
		}
		return nil, err
	}

	log.Printf("[LedgerEngine] 转账成功: transactionNo=%s, sender=%d, recipient=%d, amount=%s",
		result.TransactionNo, in.ActorID, in.RecipientID, in.Amount.StringFixed(2))
	return result, nil
}

// attemptTransfer 单次"读-校验-写"尝试，版本冲突以 ErrOptimisticLock 上抛
func (e *Engine) attemptTransfer(ctx context.Context, in TransferInput) (*model.Transaction, error) {
	now := time.Now()
	actor := strconv.FormatInt(in.ActorID, 10)

	// 1. 快照双方账户（余额 + 版本号）
	sender, err := e.accountByUserID(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	recipient, err := e.accountByUserID(ctx, in.RecipientID)
	if err != nil {
		return nil, err
	}

	// 2. 区间校验，拒绝即审计，余额不动
	if sender.Balance.Sub(in.Amount).LessThan(e.cfg.Ledger.Min()) {
		e.auditRejection(ctx, actor, ActionTransferRejected, CodeInsufficientFunds, in.IPAddress, sender,
			in.Amount, map[string]interface{}{"recipient_account_id": recipient.ID})
		return nil, NewError(CodeInsufficientFunds, "余额不足")
	}
	if recipient.Balance.Add(in.Amount).GreaterThan(e.cfg.Ledger.Max()) {
		e.auditRejection(ctx, actor, ActionTransferRejected, CodeRecipientLimit, in.IPAddress, sender,
			in.Amount, map[string]interface{}{"recipient_account_id": recipient.ID, "recipient_balance": recipient.Balance})
		return nil, NewError(CodeRecipientLimit, "对方余额将超出上限")
	}

	// 3. 风控评分，纯读，发生在任何变更之前
	window, err := e.stores.Transactions().ListBySenderSince(ctx, sender.ID, e.scorer.WindowStart(now))
	if err != nil {
		return nil, fmt.Errorf("查询评分窗口失败: %w", err)
	}
	assessment := e.scorer.Score(window, fraud.Candidate{
		SenderAccountID:    sender.ID,
		RecipientAccountID: &recipient.ID,
		Amount:             in.Amount,
	}, now)

	if assessment.Decision == fraud.DecisionBlock {
		// FAILED 流水不占用幂等ID，拦截后同一ID仍可重试
		return nil, e.blockTransaction(ctx, actor, ActionTransferBlocked, in.IPAddress, assessment,
			e.newTransaction("", sender, &recipient.ID, "", in.Amount, model.TransactionKindTransfer,
				model.TransactionStatusFailed, in.Category, in.Note))
	}

	severity := model.AuditSeverityInfo
	if assessment.Decision == fraud.DecisionReview {
		severity = model.AuditSeverityWarning
	}

	// 4-6. 提交阶段：扣款、入账、流水、审计、发件箱，不可分割
	trans := e.newTransaction(in.RequestID, sender, &recipient.ID, "", in.Amount, model.TransactionKindTransfer,
		model.TransactionStatusCompleted, in.Category, in.Note)

	var replayed *model.Transaction
	err = e.stores.Atomic(ctx, func(st storage.Stores) error {
		// 幂等ID终查：提交单元内已看得到并发赢家落下的流水，
		// 发现成功记录就整体放弃本次提交改走重放
		if in.RequestID != "" {
			existing, err := st.Transactions().GetByRequestID(ctx, in.RequestID)
			if err != nil {
				return fmt.Errorf("幂等查询失败: %w", err)
			}
			if existing != nil && existing.Status == model.TransactionStatusCompleted {
				replayed = existing
				return errIdempotentReplay
			}
		}

		newSender, err := st.Accounts().ReserveAndApply(ctx, sender.ID, in.Amount.Neg(), sender.Version)
		if err != nil {
			if errors.Is(err, storage.ErrLimitExceeded) {
				return errDebitLimit
			}
			return err
		}

		if _, err := st.Accounts().ReserveAndApply(ctx, recipient.ID, in.Amount, recipient.Version); err != nil {
			// 第二腿失败：先补偿已执行的扣款，再让外层决定去向
			if _, cerr := st.Accounts().ReserveAndApply(ctx, sender.ID, in.Amount, newSender.Version); cerr != nil {
				return fmt.Errorf("补偿扣款失败: %w", cerr)
			}
			if errors.Is(err, storage.ErrLimitExceeded) {
				return errCreditLimit
			}
			return err
		}

		if err := st.Transactions().Create(ctx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		if _, err := e.chain.Append(ctx, st.Audit(), audit.AppendInput{
			Actor:      actor,
			ActionType: ActionTransfer,
			EntityType: EntityTransaction,
			EntityID:   trans.TransactionNo,
			Payload: map[string]interface{}{
				"sender_account_id":    sender.ID,
				"recipient_account_id": recipient.ID,
				"amount":               in.Amount,
				"sender_before":        sender.Balance,
				"sender_after":         sender.Balance.Sub(in.Amount),
				"recipient_before":     recipient.Balance,
				"recipient_after":      recipient.Balance.Add(in.Amount),
				"category":             in.Category,
				"risk":                 assessment,
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
	case errors.Is(err, errIdempotentReplay):
		return replayed, nil
	case errors.Is(err, errDebitLimit):
		// 校验和提交之间被并发操作挤掉了余量
		e.auditRejection(ctx, actor, ActionTransferRejected, CodeInsufficientFunds, in.IPAddress, sender,
			in.Amount, map[string]interface{}{"recipient_account_id": recipient.ID})
		return nil, NewError(CodeInsufficientFunds, "余额不足")
	case errors.Is(err, errCreditLimit):
		e.auditRejection(ctx, actor, ActionTransferRejected, CodeRecipientLimit, in.IPAddress, sender,
			in.Amount, map[string]interface{}{"recipient_account_id": recipient.ID})
		return nil, NewError(CodeRecipientLimit, "对方余额将超出上限")
	default:
		return nil, err
	}
}

// blockTransaction 风控拦截：FAILED 流水 + CRITICAL 审计落在同一原子单元，余额不动
func (e *Engine) blockTransaction(ctx context.Context, actor, action, ip string, assessment fraud.Assessment, failed *model.Transaction) error {
	err := e.stores.Atomic(ctx, func(st storage.Stores) error {
		if err := st.Transactions().Create(ctx, failed); err != nil {
			return fmt.Errorf("记录拦截流水失败: %w", err)
		}
		_, err := e.chain.Append(ctx, st.Audit(), audit.AppendInput{
			Actor:      actor,
			ActionType: action,
			EntityType: EntityTransaction,
			EntityID:   failed.TransactionNo,
			Payload: map[string]interface{}{
				"amount": failed.Amount,
				"kind":   failed.Kind,
				"risk":   assessment,
			},
			Severity:  model.AuditSeverityCritical,
			IPAddress: ip,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("落盘拦截记录失败: %w", err)
	}

	log.Printf("[LedgerEngine] 风控拦截: transactionNo=%s, actor=%s, score=%d, signals=%v",
		failed.TransactionNo, actor, assessment.Score, assessment.Signals)
	return NewError(CodeFraudBlocked, "操作触发风控拦截")
}

// auditRejection 限额类拒绝留痕：一条 WARNING 审计节点，不落流水
func (e *Engine) auditRejection(ctx context.Context, actor, action, code, ip string, sender *model.Account,
	amount decimal.Decimal, extra map[string]interface{}) {

	payload := map[string]interface{}{
		"code":           code,
		"amount":         amount,
		"sender_balance": sender.Balance,
	}
	for k, v := range extra {
		payload[k] = v
	}
	// 统一经由 Atomic 追加，保证锁序恒为"存储 -> 链"；
	// 审计序号撞车时有界重试，不让留痕输给并发
	err := WithRetry(e.cfg.Ledger.MaxRetries, func() error {
		return e.stores.Atomic(ctx, func(st storage.Stores) error {
			_, err := e.chain.Append(ctx, st.Audit(), audit.AppendInput{
				Actor:      actor,
				ActionType: action,
				EntityType: EntityAccount,
				EntityID:   strconv.FormatInt(sender.ID, 10),
				Payload:    payload,
				Severity:   model.AuditSeverityWarning,
				IPAddress:  ip,
			})
			return err
		})
	})
	if err != nil {
		log.Printf("[LedgerEngine] 拒绝留痕失败: actor=%s, code=%s, err=%v", actor, code, err)
	}
}

func (e *Engine) newTransaction(requestID string, sender *model.Account, recipientID *int64, eventNo string,
	amount decimal.Decimal, kind, status, category, note string) *model.Transaction {

	after := sender.Balance
	if status == model.TransactionStatusCompleted {
		after = sender.Balance.Sub(amount)
	}
	var reqID *string
	if requestID != "" {
		reqID = &requestID
	}
	return &model.Transaction{
		TransactionNo:      idgen.GenerateTransactionNo(),
		RequestID:          reqID,
		SenderAccountID:    sender.ID,
		RecipientAccountID: recipientID,
		EventNo:            eventNo,
		Amount:             amount,
		Kind:               kind,
		Status:             status,
		Category:           category,
		Note:               note,
		BalanceBefore:      sender.Balance,
		BalanceAfter:       after,
	}
}

// enqueueOutbox 在提交事务内写入发件箱，由后台任务异步投递
func (e *Engine) enqueueOutbox(ctx context.Context, st storage.Stores, trans *model.Transaction) error {
	payload := map[string]interface{}{
		"transaction_no":    trans.TransactionNo,
		"sender_account_id": trans.SenderAccountID,
		"amount":            trans.Amount,
		"kind":              trans.Kind,
		"occurred_at":       time.Now().Format(time.RFC3339),
	}
	if trans.RecipientAccountID != nil {
		payload["recipient_account_id"] = *trans.RecipientAccountID
	}
	if trans.EventNo != "" {
		payload["event_no"] = trans.EventNo
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化交易事件失败: %w", err)
	}

	topic := e.cfg.Kafka.Topic.Transaction
	if topic == "" {
		topic = defaultTransactionTopic
	}
	return st.Outbox().Create(ctx, &model.OutboxMessage{
		MessageKey: trans.TransactionNo,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	})
}

func (e *Engine) accountByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	account, err := e.stores.Accounts().GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, NewError(CodeAccountNotFound, "账户不存在")
		}
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}
	if !account.Active {
		return nil, NewError(CodeAccountNotFound, "账户已停用")
	}
	return account, nil
}

// validateAmount 金额必须为正且最多两位小数
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewError(CodeValidation, "金额必须大于0")
	}
	if amount.Exponent() < -2 {
		return NewError(CodeValidation, "金额最多两位小数")
	}
	return nil
}
