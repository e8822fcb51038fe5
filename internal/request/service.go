package request

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneyflow/internal/audit"
	"moneyflow/internal/config"
	"moneyflow/internal/infrastructure/lock"
	"moneyflow/internal/ledger"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
	"moneyflow/pkg/idgen"
)

const (
	ActionRequestCreated   = "REQUEST_CREATED"
	ActionRequestApproved  = "REQUEST_APPROVED"
	ActionRequestDeclined  = "REQUEST_DECLINED"
	ActionRequestCancelled = "REQUEST_CANCELLED"
	ActionRequestExpired   = "REQUEST_EXPIRED"
)

// Service 收款请求状态机
//
// 台账引擎上面的薄层：只管生命周期流转，同意时调引擎执行
// recipient -> requester 的转账，自己永远不直接动余额。
// 转账失败时请求保持 PENDING，失败原样上抛，不吞
type Service struct {
	stores storage.Stores
	engine *ledger.Engine
	chain  *audit.Chain
	rdb    *redis.Client // 可为 nil（开发模式 / 测试不启 Redis）
	cfg    *config.Config
}

func NewService(stores storage.Stores, engine *ledger.Engine, chain *audit.Chain, rdb *redis.Client, cfg *config.Config) *Service {
	return &Service{
		stores: stores,
		engine: engine,
		chain:  chain,
		rdb:    rdb,
		cfg:    cfg,
	}
}

// CreateInput 创建收款请求输入
type CreateInput struct {
	ActorID       int64 // 发起人（收款方）
	RecipientID   int64 // 被请求人（付款方）
	Amount        decimal.Decimal
	Note          string
	ExpiresInDays int // 0 取默认值
	IPAddress     string
}

// Create 创建收款请求
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.MoneyRequest, error) {
	if !in.Amount.IsPositive() {
		return nil, ledger.NewError(ledger.CodeValidation, "金额必须大于0")
	}
	if in.Amount.Exponent() < -2 {
		return nil, ledger.NewError(ledger.CodeValidation, "金额最多两位小数")
	}
	if in.ActorID == in.RecipientID {
		return nil, ledger.NewError(ledger.CodeValidation, "不能向自己发起收款请求")
	}

	days := in.ExpiresInDays
	if days == 0 {
		days = s.cfg.Request.DefaultExpiryDays
	}
	if days < 1 || days > s.cfg.Request.MaxExpiryDays {
		return nil, ledger.NewError(ledger.CodeValidation,
			fmt.Sprintf("有效期必须在 1-%d 天之间", s.cfg.Request.MaxExpiryDays))
	}

	// 双方都必须已开户
	if _, err := s.engine.GetAccount(ctx, in.ActorID); err != nil {
		return nil, err
	}
	if _, err := s.engine.GetAccount(ctx, in.RecipientID); err != nil {
		return nil, err
	}

	req := &model.MoneyRequest{
		RequestNo:   idgen.GenerateRequestNo(),
		RequesterID: in.ActorID,
		RecipientID: in.RecipientID,
		Amount:      in.Amount,
		Note:        in.Note,
		Status:      model.RequestStatusPending,
		ExpiresAt:   time.Now().AddDate(0, 0, days),
	}

	// 审计序号在并发事务间撞车时以乐观锁冲突上抛，有界重试排队
	err := ledger.WithRetry(s.cfg.Ledger.MaxRetries, func() error {
		return s.stores.Atomic(ctx, func(st storage.Stores) error {
			if err := st.Requests().Create(ctx, req); err != nil {
				return fmt.Errorf("创建收款请求失败: %w", err)
			}
			_, err := s.chain.Append(ctx, st.Audit(), audit.AppendInput{
				Actor:      strconv.FormatInt(in.ActorID, 10),
				ActionType: ActionRequestCreated,
				EntityType: ledger.EntityRequest,
				EntityID:   req.RequestNo,
				Payload: map[string]interface{}{
					"recipient_id": in.RecipientID,
					"amount":       in.Amount,
					"expires_at":   req.ExpiresAt.Format(time.RFC3339),
				},
				Severity:  model.AuditSeverityInfo,
				IPAddress: in.IPAddress,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[MoneyRequest] 请求已创建: requestNo=%s, requester=%d, recipient=%d, amount=%s",
		req.RequestNo, in.ActorID, in.RecipientID, in.Amount.StringFixed(2))
	return req, nil
}

// Get 查询请求，读取时懒求值过期状态
func (s *Service) Get(ctx context.Context, requestNo string) (*model.MoneyRequest, error) {
	req, err := s.stores.Requests().GetByRequestNo(ctx, requestNo)
	if err != nil {
		if errors.Is(err, storage.ErrRequestNotFound) {
			return nil, ledger.NewError(ledger.CodeNotFound, "收款请求不存在")
		}
		return nil, fmt.Errorf("查询收款请求失败: %w", err)
	}
	return s.resolveExpiry(ctx, req)
}

// resolveExpiry PENDING 且已过 expires_at 的请求先落为 EXPIRED 再返回
func (s *Service) resolveExpiry(ctx context.Context, req *model.MoneyRequest) (*model.MoneyRequest, error) {
	if !req.Expired(time.Now()) {
		return req, nil
	}

	err := s.markExpired(ctx, req, model.AuditActorSystem)
	if err != nil && !errors.Is(err, storage.ErrStatusInvalid) {
		return nil, err
	}
	return s.stores.Requests().GetByRequestNo(ctx, req.RequestNo)
}

func (s *Service) markExpired(ctx context.Context, req *model.MoneyRequest, actor string) error {
	return ledger.WithRetry(s.cfg.Ledger.MaxRetries, func() error {
		return s.stores.Atomic(ctx, func(st storage.Stores) error {
			if err := st.Requests().UpdateStatus(ctx, req.RequestNo,
				model.RequestStatusPending, model.RequestStatusExpired); err != nil {
				return err
			}
			_, err := s.chain.Append(ctx, st.Audit(), audit.AppendInput{
				Actor:      actor,
				ActionType: ActionRequestExpired,
				EntityType: ledger.EntityRequest,
				EntityID:   req.RequestNo,
				Payload: map[string]interface{}{
					"expires_at": req.ExpiresAt.Format(time.RFC3339),
				},
				Severity: model.AuditSeverityInfo,
			})
			return err
		})
	})
}

// Approve 付款方同意请求，触发 recipient -> requester 的台账转账
//
// 先转账后翻状态：转账失败请求保持 PENDING；转账带请求号作为
// 幂等ID，并发重复同意最多只会转一次钱
func (s *Service) Approve(ctx context.Context, actorID int64, requestNo, ip string) (*model.MoneyRequest, error) {
	req, err := s.Get(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if req.RecipientID != actorID {
		return nil, ledger.NewError(ledger.CodeForbidden, "只有被请求人可以同意")
	}
	if req.Status != model.RequestStatusPending {
		return nil, ledger.NewError(ledger.CodeInvalidStateTransition, "请求当前状态不允许同意")
	}

	// 请求维度的分布式锁，抑制重复提交；拿到锁后再校验一次状态
	if s.rdb != nil {
		approvalLock := lock.NewApprovalLock(s.rdb, requestNo, uuid.NewString())
		if err := approvalLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, ledger.NewError(ledger.CodeContention, "系统繁忙，请稍后重试")
		}
		defer approvalLock.Unlock(ctx)

		req, err = s.Get(ctx, requestNo)
		if err != nil {
			return nil, err
		}
		if req.Status != model.RequestStatusPending {
			return nil, ledger.NewError(ledger.CodeInvalidStateTransition, "请求当前状态不允许同意")
		}
	}

	trans, err := s.engine.Transfer(ctx, ledger.TransferInput{
		ActorID:     req.RecipientID,
		RecipientID: req.RequesterID,
		Amount:      req.Amount,
		Category:    "money_request",
		Note:        req.Note,
		RequestID:   "REQ-" + req.RequestNo,
		IPAddress:   ip,
	})
	if err != nil {
		// 转账失败原样上抛，请求保持 PENDING
		return nil, err
	}

	err = s.transition(ctx, actorID, req, model.RequestStatusApproved, ActionRequestApproved, ip,
		map[string]interface{}{"transaction_no": trans.TransactionNo})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, requestNo)
}

// Decline 付款方拒绝请求
func (s *Service) Decline(ctx context.Context, actorID int64, requestNo, ip string) (*model.MoneyRequest, error) {
	req, err := s.Get(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if req.RecipientID != actorID {
		return nil, ledger.NewError(ledger.CodeForbidden, "只有被请求人可以拒绝")
	}

	if err := s.transition(ctx, actorID, req, model.RequestStatusDeclined, ActionRequestDeclined, ip, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, requestNo)
}

// Cancel 发起人撤回请求
func (s *Service) Cancel(ctx context.Context, actorID int64, requestNo, ip string) (*model.MoneyRequest, error) {
	req, err := s.Get(ctx, requestNo)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actorID {
		return nil, ledger.NewError(ledger.CodeForbidden, "只有发起人可以撤回")
	}

	if err := s.transition(ctx, actorID, req, model.RequestStatusCancelled, ActionRequestCancelled, ip, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, requestNo)
}

// transition PENDING -> 终态的 CAS 流转 + 审计，同一原子单元
func (s *Service) transition(ctx context.Context, actorID int64, req *model.MoneyRequest,
	toStatus, action, ip string, extra map[string]interface{}) error {

	err := ledger.WithRetry(s.cfg.Ledger.MaxRetries, func() error {
		return s.stores.Atomic(ctx, func(st storage.Stores) error {
			if err := st.Requests().UpdateStatus(ctx, req.RequestNo, model.RequestStatusPending, toStatus); err != nil {
				return err
			}
			payload := map[string]interface{}{
				"requester_id": req.RequesterID,
				"recipient_id": req.RecipientID,
				"amount":       req.Amount,
			}
			for k, v := range extra {
				payload[k] = v
			}
			_, err := s.chain.Append(ctx, st.Audit(), audit.AppendInput{
				Actor:      strconv.FormatInt(actorID, 10),
				ActionType: action,
				EntityType: ledger.EntityRequest,
				EntityID:   req.RequestNo,
				Payload:    payload,
				Severity:   model.AuditSeverityInfo,
				IPAddress:  ip,
			})
			return err
		})
	})
	if errors.Is(err, storage.ErrStatusInvalid) {
		return ledger.NewError(ledger.CodeInvalidStateTransition, "请求当前状态不允许该操作")
	}
	if err != nil {
		return fmt.Errorf("请求状态流转失败: %w", err)
	}

	log.Printf("[MoneyRequest] 状态流转: requestNo=%s, to=%s, actor=%d", req.RequestNo, toStatus, actorID)
	return nil
}

// List 查询用户相关的请求（发起的和被请求的），过期的按 EXPIRED 展示
func (s *Service) List(ctx context.Context, userID int64, page, pageSize int) ([]*model.MoneyRequest, int64, error) {
	requests, total, err := s.stores.Requests().ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("查询收款请求失败: %w", err)
	}

	now := time.Now()
	for _, req := range requests {
		// 展示层懒求值，不逐条落库，落库交给后台清理任务
		if req.Expired(now) {
			req.Status = model.RequestStatusExpired
		}
	}
	return requests, total, nil
}

// SweepExpired 批量把过期的 PENDING 请求落为 EXPIRED，供后台任务调用
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.stores.Requests().ListExpired(ctx, time.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("查询过期请求失败: %w", err)
	}

	swept := 0
	for _, req := range expired {
		if err := s.markExpired(ctx, req, model.AuditActorSystem); err != nil {
			if errors.Is(err, storage.ErrStatusInvalid) {
				continue // 已被并发流转，跳过
			}
			log.Printf("[MoneyRequest] 过期落库失败: requestNo=%s, err=%v", req.RequestNo, err)
			continue
		}
		swept++
	}
	return swept, nil
}
