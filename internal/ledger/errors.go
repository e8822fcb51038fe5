package ledger

import (
	"errors"
)

// 稳定错误码，跨边界不变；API 层只做映射，不改写
const (
	CodeValidation             = "VALIDATION"
	CodeSelfTransfer           = "SELF_TRANSFER_FORBIDDEN"
	CodeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	CodeRecipientLimit         = "RECIPIENT_LIMIT_EXCEEDED"
	CodeLimitExceeded          = "LIMIT_EXCEEDED"
	CodeFraudBlocked           = "FRAUD_BLOCKED"
	CodeContention             = "CONTENTION"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	CodeEventClosed            = "EVENT_CLOSED"
	CodeNotFound               = "NOT_FOUND"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL"
)

// Error 带稳定错误码的业务错误
// 台账层把存储哨兵错误翻译成 *Error 后才向外传播，
// 调用方看到的是错误码，不是堆栈
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// AsError 从错误链里提取业务错误
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
