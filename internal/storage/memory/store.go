package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"moneyflow/internal/config"
	"moneyflow/internal/model"
	"moneyflow/internal/storage"
)

// Store 内存版存储实现
// 开发模式和测试使用，语义与 MySQL 实现一致：
//   - ReserveAndApply 做版本 CAS 和余额区间校验
//   - Atomic 用全局互斥保证提交阶段不被交错
//   - 读写两侧都做值拷贝，调用方改返回值影响不到存储内部
//
// Atomic 只保证互斥，不做失败回滚；提交阶段里的冲突补偿由台账引擎负责
type Store struct {
	mu  sync.Mutex
	min decimal.Decimal
	max decimal.Decimal

	nextAccountID int64
	nextRowID     int64
	accounts      map[int64]*model.Account // accountID -> 账户
	userIndex     map[int64]int64          // userID -> accountID
	transactions  []*model.Transaction
	auditEntries  []*model.AuditEntry
	requests      map[string]*model.MoneyRequest
	requestOrder  []string
	events        map[string]*model.EventAccount
	outbox        []*model.OutboxMessage
}

func NewStore(cfg *config.LedgerConfig) *Store {
	return &Store{
		min:       cfg.Min(),
		max:       cfg.Max(),
		accounts:  make(map[int64]*model.Account),
		userIndex: make(map[int64]int64),
		requests:  make(map[string]*model.MoneyRequest),
		events:    make(map[string]*model.EventAccount),
	}
}

// ============================================================================
// Stores 聚合视图
// ============================================================================

func (s *Store) Accounts() storage.AccountStore         { return &accountStore{s: s} }
func (s *Store) Transactions() storage.TransactionStore { return &transactionStore{s: s} }
func (s *Store) Audit() storage.AuditStore              { return &auditStore{s: s} }
func (s *Store) Requests() storage.RequestStore         { return &requestStore{s: s} }
func (s *Store) Events() storage.EventStore             { return &eventStore{s: s} }
func (s *Store) Outbox() storage.OutboxStore            { return &outboxStore{s: s} }

func (s *Store) Atomic(ctx context.Context, fn func(storage.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txStores{s: s})
}

// txStores Atomic 内部视图：互斥锁已被外层持有，子存储不再加锁
type txStores struct {
	s *Store
}

func (t *txStores) Accounts() storage.AccountStore         { return &accountStore{s: t.s, inTx: true} }
func (t *txStores) Transactions() storage.TransactionStore { return &transactionStore{s: t.s, inTx: true} }
func (t *txStores) Audit() storage.AuditStore              { return &auditStore{s: t.s, inTx: true} }
func (t *txStores) Requests() storage.RequestStore         { return &requestStore{s: t.s, inTx: true} }
func (t *txStores) Events() storage.EventStore             { return &eventStore{s: t.s, inTx: true} }
func (t *txStores) Outbox() storage.OutboxStore            { return &outboxStore{s: t.s, inTx: true} }

func (t *txStores) Atomic(ctx context.Context, fn func(storage.Stores) error) error {
	return fn(t)
}

func (s *Store) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func copyAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

// ============================================================================
// 账户
// ============================================================================

type accountStore struct {
	s    *Store
	inTx bool
}

func (a *accountStore) Create(ctx context.Context, account *model.Account) error {
	defer a.s.lock(a.inTx)()

	a.s.nextAccountID++
	account.ID = a.s.nextAccountID
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	a.s.accounts[account.ID] = copyAccount(account)
	a.s.userIndex[account.UserID] = account.ID
	return nil
}

func (a *accountStore) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	defer a.s.lock(a.inTx)()

	id, ok := a.s.userIndex[userID]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return copyAccount(a.s.accounts[id]), nil
}

func (a *accountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	defer a.s.lock(a.inTx)()

	acc, ok := a.s.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return copyAccount(acc), nil
}

func (a *accountStore) ReserveAndApply(ctx context.Context, accountID int64, delta decimal.Decimal, expectedVersion int) (*model.Account, error) {
	defer a.s.lock(a.inTx)()

	acc, ok := a.s.accounts[accountID]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	if !acc.Active {
		return nil, storage.ErrAccountInactive
	}
	if acc.Version != expectedVersion {
		return nil, storage.ErrOptimisticLock
	}

	newBalance := acc.Balance.Add(delta)
	if newBalance.LessThan(a.s.min) || newBalance.GreaterThan(a.s.max) {
		return nil, storage.ErrLimitExceeded
	}

	acc.Balance = newBalance
	acc.Version++
	acc.UpdatedAt = time.Now()
	return copyAccount(acc), nil
}

// ============================================================================
// 交易流水
// ============================================================================

type transactionStore struct {
	s    *Store
	inTx bool
}

func copyTransaction(t *model.Transaction) *model.Transaction {
	c := *t
	return &c
}

func (t *transactionStore) Create(ctx context.Context, trans *model.Transaction) error {
	defer t.s.lock(t.inTx)()

	if trans.RequestID != nil {
		for _, tr := range t.s.transactions {
			if tr.RequestID != nil && *tr.RequestID == *trans.RequestID {
				return storage.ErrDuplicateRequestID
			}
		}
	}

	t.s.nextRowID++
	trans.ID = t.s.nextRowID
	if trans.CreatedAt.IsZero() {
		trans.CreatedAt = time.Now()
	}
	t.s.transactions = append(t.s.transactions, copyTransaction(trans))
	return nil
}

func (t *transactionStore) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	defer t.s.lock(t.inTx)()

	if requestID == "" {
		return nil, nil
	}
	for _, tr := range t.s.transactions {
		if tr.RequestID != nil && *tr.RequestID == requestID {
			return copyTransaction(tr), nil
		}
	}
	return nil, nil
}

func (t *transactionStore) List(ctx context.Context, filter storage.HistoryFilter) ([]*model.Transaction, int64, error) {
	defer t.s.lock(t.inTx)()

	var matched []*model.Transaction
	for _, tr := range t.s.transactions {
		if filter.AccountID != 0 {
			hit := tr.SenderAccountID == filter.AccountID ||
				(tr.RecipientAccountID != nil && *tr.RecipientAccountID == filter.AccountID)
			if !hit {
				continue
			}
		}
		if filter.Kind != "" && tr.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && tr.CreatedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, copyTransaction(tr))
	}

	// 最新的在前
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (t *transactionStore) ListBySenderSince(ctx context.Context, senderAccountID int64, since time.Time) ([]*model.Transaction, error) {
	defer t.s.lock(t.inTx)()

	var result []*model.Transaction
	for _, tr := range t.s.transactions {
		if tr.SenderAccountID == senderAccountID && !tr.CreatedAt.Before(since) {
			result = append(result, copyTransaction(tr))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ============================================================================
// 审计链
// ============================================================================

type auditStore struct {
	s    *Store
	inTx bool
}

func copyAuditEntry(e *model.AuditEntry) *model.AuditEntry {
	c := *e
	return &c
}

func (a *auditStore) Append(ctx context.Context, entry *model.AuditEntry) error {
	defer a.s.lock(a.inTx)()

	a.s.nextRowID++
	entry.ID = a.s.nextRowID
	a.s.auditEntries = append(a.s.auditEntries, copyAuditEntry(entry))
	return nil
}

func (a *auditStore) Last(ctx context.Context) (*model.AuditEntry, error) {
	defer a.s.lock(a.inTx)()

	if len(a.s.auditEntries) == 0 {
		return nil, nil
	}
	return copyAuditEntry(a.s.auditEntries[len(a.s.auditEntries)-1]), nil
}

func (a *auditStore) Range(ctx context.Context, fromSeq, toSeq int64) ([]*model.AuditEntry, error) {
	defer a.s.lock(a.inTx)()

	var result []*model.AuditEntry
	for _, e := range a.s.auditEntries {
		if e.Sequence < fromSeq {
			continue
		}
		if toSeq >= 0 && e.Sequence > toSeq {
			continue
		}
		result = append(result, copyAuditEntry(e))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}

// RewriteAuditEntry 测试辅助：绕过只追加契约直接改写指定序号的节点，
// 模拟存储介质上的篡改。正常读写路径拿到的都是副本，改不到这里
func (s *Store) RewriteAuditEntry(sequence int64, fn func(*model.AuditEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.auditEntries {
		if e.Sequence == sequence {
			fn(e)
			return true
		}
	}
	return false
}

// ============================================================================
// 收款请求
// ============================================================================

type requestStore struct {
	s    *Store
	inTx bool
}

func copyRequest(r *model.MoneyRequest) *model.MoneyRequest {
	c := *r
	return &c
}

func (r *requestStore) Create(ctx context.Context, req *model.MoneyRequest) error {
	defer r.s.lock(r.inTx)()

	r.s.nextRowID++
	req.ID = r.s.nextRowID
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	r.s.requests[req.RequestNo] = copyRequest(req)
	r.s.requestOrder = append(r.s.requestOrder, req.RequestNo)
	return nil
}

func (r *requestStore) GetByRequestNo(ctx context.Context, requestNo string) (*model.MoneyRequest, error) {
	defer r.s.lock(r.inTx)()

	req, ok := r.s.requests[requestNo]
	if !ok {
		return nil, storage.ErrRequestNotFound
	}
	return copyRequest(req), nil
}

func (r *requestStore) UpdateStatus(ctx context.Context, requestNo, fromStatus, toStatus string) error {
	defer r.s.lock(r.inTx)()

	if !model.CanRequestTransitionTo(fromStatus, toStatus) {
		return storage.ErrStatusInvalid
	}
	req, ok := r.s.requests[requestNo]
	if !ok {
		return storage.ErrRequestNotFound
	}
	if req.Status != fromStatus {
		return storage.ErrStatusInvalid
	}
	req.Status = toStatus
	req.UpdatedAt = time.Now()
	return nil
}

func (r *requestStore) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.MoneyRequest, int64, error) {
	defer r.s.lock(r.inTx)()

	var matched []*model.MoneyRequest
	for i := len(r.s.requestOrder) - 1; i >= 0; i-- {
		req := r.s.requests[r.s.requestOrder[i]]
		if req.RequesterID == userID || req.RecipientID == userID {
			matched = append(matched, copyRequest(req))
		}
	}

	total := int64(len(matched))
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *requestStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.MoneyRequest, error) {
	defer r.s.lock(r.inTx)()

	var result []*model.MoneyRequest
	for _, no := range r.s.requestOrder {
		req := r.s.requests[no]
		if req.Status == model.RequestStatusPending && now.After(req.ExpiresAt) {
			result = append(result, copyRequest(req))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// SetRequestExpiry 测试辅助：直接改写请求的过期时间
func (s *Store) SetRequestExpiry(requestNo string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[requestNo]; ok {
		req.ExpiresAt = expiresAt
	}
}

// ============================================================================
// 集资活动
// ============================================================================

type eventStore struct {
	s    *Store
	inTx bool
}

func copyEvent(e *model.EventAccount) *model.EventAccount {
	c := *e
	return &c
}

func (e *eventStore) Create(ctx context.Context, event *model.EventAccount) error {
	defer e.s.lock(e.inTx)()

	e.s.nextRowID++
	event.ID = e.s.nextRowID
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	e.s.events[event.EventNo] = copyEvent(event)
	return nil
}

func (e *eventStore) GetByEventNo(ctx context.Context, eventNo string) (*model.EventAccount, error) {
	defer e.s.lock(e.inTx)()

	ev, ok := e.s.events[eventNo]
	if !ok {
		return nil, storage.ErrEventNotFound
	}
	return copyEvent(ev), nil
}

func (e *eventStore) AddContribution(ctx context.Context, eventNo string, amount decimal.Decimal) (*model.EventAccount, error) {
	defer e.s.lock(e.inTx)()

	ev, ok := e.s.events[eventNo]
	if !ok {
		return nil, storage.ErrEventNotFound
	}
	if ev.Status != model.EventStatusOpen {
		return nil, storage.ErrStatusInvalid
	}
	ev.Collected = ev.Collected.Add(amount)
	if ev.Collected.GreaterThanOrEqual(ev.Target) {
		ev.Status = model.EventStatusCompleted
	}
	ev.UpdatedAt = time.Now()
	return copyEvent(ev), nil
}

func (e *eventStore) UpdateStatus(ctx context.Context, eventNo, fromStatus, toStatus string) error {
	defer e.s.lock(e.inTx)()

	if !model.CanEventTransitionTo(fromStatus, toStatus) {
		return storage.ErrStatusInvalid
	}
	ev, ok := e.s.events[eventNo]
	if !ok {
		return storage.ErrEventNotFound
	}
	if ev.Status != fromStatus {
		return storage.ErrStatusInvalid
	}
	ev.Status = toStatus
	ev.UpdatedAt = time.Now()
	return nil
}

// ============================================================================
// 发件箱
// ============================================================================

type outboxStore struct {
	s    *Store
	inTx bool
}

func (o *outboxStore) Create(ctx context.Context, msg *model.OutboxMessage) error {
	defer o.s.lock(o.inTx)()

	o.s.nextRowID++
	msg.ID = o.s.nextRowID
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	o.s.outbox = append(o.s.outbox, copyOutboxMessage(msg))
	return nil
}

func copyOutboxMessage(m *model.OutboxMessage) *model.OutboxMessage {
	c := *m
	return &c
}

func (o *outboxStore) GetPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	defer o.s.lock(o.inTx)()

	var result []*model.OutboxMessage
	for _, m := range o.s.outbox {
		if m.Status == model.OutboxStatusPending {
			result = append(result, copyOutboxMessage(m))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (o *outboxStore) setStatus(id int64, status string, bumpRetry bool) error {
	for _, m := range o.s.outbox {
		if m.ID == id {
			if status != "" {
				m.Status = status
			}
			if bumpRetry {
				m.RetryCount++
			}
			m.UpdatedAt = time.Now()
			return nil
		}
	}
	return storage.ErrStatusInvalid
}

func (o *outboxStore) MarkSent(ctx context.Context, id int64) error {
	defer o.s.lock(o.inTx)()
	return o.setStatus(id, model.OutboxStatusSent, false)
}

func (o *outboxStore) MarkFailed(ctx context.Context, id int64) error {
	defer o.s.lock(o.inTx)()
	return o.setStatus(id, model.OutboxStatusFailed, true)
}

func (o *outboxStore) IncrementRetry(ctx context.Context, id int64) error {
	defer o.s.lock(o.inTx)()
	return o.setStatus(id, "", true)
}
