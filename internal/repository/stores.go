package repository

import (
	"context"

	"moneyflow/internal/config"
	"moneyflow/internal/storage"

	"gorm.io/gorm"
)

// Stores 基于 MySQL 的聚合存储实现
// Atomic 映射到数据库事务：事务内的 fn 拿到一份绑定事务连接的 Stores，
// fn 返回错误则整体回滚，保证提交阶段的全有或全无
type Stores struct {
	db  *gorm.DB
	cfg *config.LedgerConfig

	accounts     *AccountRepository
	transactions *TransactionRepository
	audit        *AuditRepository
	requests     *RequestRepository
	events       *EventRepository
	outbox       *OutboxRepository
}

func NewStores(db *gorm.DB, cfg *config.LedgerConfig) *Stores {
	return &Stores{
		db:           db,
		cfg:          cfg,
		accounts:     NewAccountRepository(db, cfg),
		transactions: NewTransactionRepository(db),
		audit:        NewAuditRepository(db),
		requests:     NewRequestRepository(db),
		events:       NewEventRepository(db),
		outbox:       NewOutboxRepository(db),
	}
}

func (s *Stores) Accounts() storage.AccountStore         { return s.accounts }
func (s *Stores) Transactions() storage.TransactionStore { return s.transactions }
func (s *Stores) Audit() storage.AuditStore              { return s.audit }
func (s *Stores) Requests() storage.RequestStore         { return s.requests }
func (s *Stores) Events() storage.EventStore             { return s.events }
func (s *Stores) Outbox() storage.OutboxStore            { return s.outbox }

func (s *Stores) Atomic(ctx context.Context, fn func(storage.Stores) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStores(tx, s.cfg))
	})
}
