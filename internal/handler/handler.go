package handler

import (
	"strconv"
	"time"

	"moneyflow/internal/ledger"
	"moneyflow/internal/request"
	"moneyflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	engine   *ledger.Engine
	requests *request.Service
}

// NewHandler 创建处理器实例
func NewHandler(engine *ledger.Engine, requests *request.Service) *Handler {
	return &Handler{
		engine:   engine,
		requests: requests,
	}
}

// writeError 业务错误按错误码映射响应，其他错误一律 INTERNAL
func writeError(c *gin.Context, err error) {
	if le, ok := ledger.AsError(err); ok {
		response.Error(c, le.Code, le.Message)
		return
	}
	response.ServerError(c, "服务器内部错误")
}

// parseAmount 金额参数一律走字符串，避免 float 精度损失
func parseAmount(s string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询当前用户余额
// GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	account, err := h.engine.GetAccount(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": account.UserID,
		"balance": account.Balance,
		"version": account.Version,
	})
}

// FundRequest 入金请求
type FundRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// FundAccount 账户入金（管理性操作，不过风控）
// POST /api/v1/account/fund
func (h *Handler) FundAccount(c *gin.Context) {
	var req FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		response.ParamError(c, "amount 必须是合法的十进制数")
		return
	}

	account, err := h.engine.FundAccount(c.Request.Context(), currentUser(c), amount, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": account.UserID,
		"balance": account.Balance,
	})
}

// GetHistory 查询交易历史
// GET /api/v1/account/history?kind=TRANSFER&since=2026-01-01T00:00:00Z&page=1&page_size=10
func (h *Handler) GetHistory(c *gin.Context) {
	kind := c.Query("kind")

	var since time.Time
	if sinceStr := c.Query("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			response.ParamError(c, "since 必须是 RFC3339 时间")
			return
		}
		since = parsed
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.engine.GetTransactionHistory(
		c.Request.Context(), currentUser(c), kind, since, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 转账相关接口
// ============================================================

// TransferRequest 转账请求
type TransferRequest struct {
	RecipientID int64  `json:"recipient_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Category    string `json:"category"`
	Note        string `json:"note"`
	RequestID   string `json:"request_id"` // 幂等ID，客户端可选
}

// Transfer 员工间转账
// POST /api/v1/transfer/execute
//
// 【关键点】转账是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 request_id 只会执行一次
// 2. 原子性：扣款、入账、流水、审计必须同时成功或同时失败
// 3. 风控前置：评分达到阻断线的转账不会动账
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		response.ParamError(c, "amount 必须是合法的十进制数")
		return
	}

	trans, err := h.engine.Transfer(c.Request.Context(), ledger.TransferInput{
		ActorID:     currentUser(c),
		RecipientID: req.RecipientID,
		Amount:      amount,
		Category:    req.Category,
		Note:        req.Note,
		RequestID:   req.RequestID,
		IPAddress:   c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction_no": trans.TransactionNo,
		"status":         trans.Status,
		"amount":         trans.Amount,
		"balance_after":  trans.BalanceAfter,
	})
}

// ============================================================
// 集资活动相关接口
// ============================================================

// CreateEventRequest 创建活动请求
type CreateEventRequest struct {
	Name     string `json:"name" binding:"required"`
	Target   string `json:"target" binding:"required"`
	Deadline string `json:"deadline" binding:"required"` // RFC3339
}

// CreateEvent 创建集资活动
// POST /api/v1/event/create
func (h *Handler) CreateEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	target, ok := parseAmount(req.Target)
	if !ok {
		response.ParamError(c, "target 必须是合法的十进制数")
		return
	}

	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		response.ParamError(c, "deadline 必须是 RFC3339 时间")
		return
	}

	event, err := h.engine.CreateEvent(c.Request.Context(), ledger.CreateEventInput{
		ActorID:   currentUser(c),
		Name:      req.Name,
		Target:    target,
		Deadline:  deadline,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, event)
}

// ContributeRequest 集资请求
type ContributeRequest struct {
	EventNo string `json:"event_no" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
	Note    string `json:"note"`
}

// Contribute 向活动池集资
// POST /api/v1/event/contribute
func (h *Handler) Contribute(c *gin.Context) {
	var req ContributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		response.ParamError(c, "amount 必须是合法的十进制数")
		return
	}

	trans, err := h.engine.ContributeToEvent(c.Request.Context(), ledger.ContributeInput{
		ActorID:   currentUser(c),
		EventNo:   req.EventNo,
		Amount:    amount,
		Note:      req.Note,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction_no": trans.TransactionNo,
		"status":         trans.Status,
		"amount":         trans.Amount,
	})
}

// GetEvent 查询活动详情
// GET /api/v1/event/detail?event_no=xxx
func (h *Handler) GetEvent(c *gin.Context) {
	eventNo := c.Query("event_no")
	if eventNo == "" {
		response.ParamError(c, "event_no 参数不能为空")
		return
	}

	event, err := h.engine.GetEvent(c.Request.Context(), eventNo)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, event)
}

// CloseEvent 关闭集资活动（仅发起人）
// POST /api/v1/event/close
func (h *Handler) CloseEvent(c *gin.Context) {
	var req struct {
		EventNo string `json:"event_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	event, err := h.engine.CloseEvent(c.Request.Context(), currentUser(c), req.EventNo, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, event)
}

// ============================================================
// 收款请求相关接口
// ============================================================

// CreateMoneyRequest 创建收款请求的请求体
type CreateMoneyRequest struct {
	RecipientID   int64  `json:"recipient_id" binding:"required"` // 被请求付款的一方
	Amount        string `json:"amount" binding:"required"`
	Note          string `json:"note"`
	ExpiresInDays int    `json:"expires_in_days"` // 0 取默认值
}

// CreateRequest 创建收款请求
// POST /api/v1/request/create
func (h *Handler) CreateRequest(c *gin.Context) {
	var req CreateMoneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		response.ParamError(c, "amount 必须是合法的十进制数")
		return
	}

	mr, err := h.requests.Create(c.Request.Context(), request.CreateInput{
		ActorID:       currentUser(c),
		RecipientID:   req.RecipientID,
		Amount:        amount,
		Note:          req.Note,
		ExpiresInDays: req.ExpiresInDays,
		IPAddress:     c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, mr)
}

// requestAction 同意/拒绝/取消共用的请求体
type requestAction struct {
	RequestNo string `json:"request_no" binding:"required"`
}

// ApproveRequest 同意收款请求（触发实际转账）
// POST /api/v1/request/approve
func (h *Handler) ApproveRequest(c *gin.Context) {
	var req requestAction
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	mr, err := h.requests.Approve(c.Request.Context(), currentUser(c), req.RequestNo, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, mr)
}

// DeclineRequest 拒绝收款请求
// POST /api/v1/request/decline
func (h *Handler) DeclineRequest(c *gin.Context) {
	var req requestAction
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	mr, err := h.requests.Decline(c.Request.Context(), currentUser(c), req.RequestNo, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, mr)
}

// CancelRequest 取消收款请求（仅发起人）
// POST /api/v1/request/cancel
func (h *Handler) CancelRequest(c *gin.Context) {
	var req requestAction
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	mr, err := h.requests.Cancel(c.Request.Context(), currentUser(c), req.RequestNo, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, mr)
}

// GetRequest 查询收款请求详情
// GET /api/v1/request/detail?request_no=xxx
func (h *Handler) GetRequest(c *gin.Context) {
	requestNo := c.Query("request_no")
	if requestNo == "" {
		response.ParamError(c, "request_no 参数不能为空")
		return
	}

	mr, err := h.requests.Get(c.Request.Context(), requestNo)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, mr)
}

// ListRequests 查询与当前用户相关的收款请求
// GET /api/v1/request/list?page=1&page_size=10
func (h *Handler) ListRequests(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	requests, total, err := h.requests.List(c.Request.Context(), currentUser(c), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 审计链相关接口
// ============================================================

// AuditEntries 按序号区间读取审计链
// GET /api/v1/audit/entries?from=0&to=100（to 省略表示到链尾）
func (h *Handler) AuditEntries(c *gin.Context) {
	from, err := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil || from < 0 {
		response.ParamError(c, "from 参数错误")
		return
	}

	to, err := strconv.ParseInt(c.DefaultQuery("to", "-1"), 10, 64)
	if err != nil {
		response.ParamError(c, "to 参数错误")
		return
	}

	entries, err := h.engine.AuditEntries(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  entries,
		"count": len(entries),
	})
}

// VerifyAudit 校验审计链完整性
// GET /api/v1/audit/verify?from=0&to=-1
func (h *Handler) VerifyAudit(c *gin.Context) {
	from, err := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil || from < 0 {
		response.ParamError(c, "from 参数错误")
		return
	}

	to, err := strconv.ParseInt(c.DefaultQuery("to", "-1"), 10, 64)
	if err != nil {
		response.ParamError(c, "to 参数错误")
		return
	}

	report, err := h.engine.VerifyAudit(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, report)
}
