package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"moneyflow/internal/audit"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
	"moneyflow/pkg/idgen"
)

// CreateEventInput 创建集资活动输入
type CreateEventInput struct {
	ActorID   int64
	Name      string
	Target    decimal.Decimal
	Deadline  time.Time
	IPAddress string
}

// CreateEvent 创建集资活动
func (e *Engine) CreateEvent(ctx context.Context, in CreateEventInput) (*model.EventAccount, error) {
	if in.Name == "" {
		return nil, NewError(CodeValidation, "活动名称不能为空")
	}
	if err := validateAmount(in.Target); err != nil {
		return nil, err
	}
	if !in.Deadline.After(time.Now()) {
		return nil, NewError(CodeValidation, "截止时间必须在将来")
	}
	// 创建人必须已开户
	if _, err := e.accountByUserID(ctx, in.ActorID); err != nil {
		return nil, err
	}

	event := &model.EventAccount{
		EventNo:   idgen.GenerateEventNo(),
		Name:      in.Name,
		CreatorID: in.ActorID,
		Target:    in.Target,
		Collected: decimal.Zero,
		Status:    model.EventStatusOpen,
		Deadline:  in.Deadline,
	}

	err := WithRetry(e.cfg.Ledger.MaxRetries, func() error {
		return e.stores.Atomic(ctx, func(st storage.Stores) error {
			if err := st.Events().Create(ctx, event); err != nil {
				return fmt.Errorf("创建集资活动失败: %w", err)
			}
			_, err := e.chain.Append(ctx, st.Audit(), audit.AppendInput{
				Actor:      strconv.FormatInt(in.ActorID, 10),
				ActionType: ActionEventCreated,
				EntityType: EntityEvent,
				EntityID:   event.EventNo,
				Payload: map[string]interface{}{
					"name":     in.Name,
					"target":   in.Target,
					"deadline": in.Deadline.Format(time.RFC3339),
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
	return event, nil
}

// CloseEvent 发起人手动关闭活动，关闭后不再接受集资
func (e *Engine) CloseEvent(ctx context.Context, actorID int64, eventNo, ip string) (*model.EventAccount, error) {
	event, err := e.stores.Events().GetByEventNo(ctx, eventNo)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, NewError(CodeNotFound, "集资活动不存在")
		}
		return nil, fmt.Errorf("查询集资活动失败: %w", err)
	}
	if event.CreatorID != actorID {
		return nil, NewError(CodeForbidden, "只有发起人可以关闭活动")
	}

	err = WithRetry(e.cfg.Ledger.MaxRetries, func() error {
		return e.stores.Atomic(ctx, func(st storage.Stores) error {
			if err := st.Events().UpdateStatus(ctx, eventNo, model.EventStatusOpen, model.EventStatusClosed); err != nil {
				if errors.Is(err, storage.ErrStatusInvalid) {
					return NewError(CodeInvalidStateTransition, "活动当前状态不允许关闭")
				}
				return err
			}
			_, err := e.chain.Append(ctx, st.Audit(), audit.AppendInput{
				Actor:      strconv.FormatInt(actorID, 10),
				ActionType: ActionEventClosed,
				EntityType: EntityEvent,
				EntityID:   eventNo,
				Payload: map[string]interface{}{
					"collected": event.Collected,
					"target":    event.Target,
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
	return e.GetEvent(ctx, eventNo)
}

// GetEvent 查询集资活动
func (e *Engine) GetEvent(ctx context.Context, eventNo string) (*model.EventAccount, error) {
	event, err := e.stores.Events().GetByEventNo(ctx, eventNo)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, NewError(CodeNotFound, "集资活动不存在")
		}
		return nil, fmt.Errorf("查询集资活动失败: %w", err)
	}
	return event, nil
}
