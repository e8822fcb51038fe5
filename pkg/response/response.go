package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody 错误体，code 是跨边界稳定的错误码字符串
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response 统一响应结构：{success, data, error}
// 所有变更接口都返回这个结构，错误永远不以异常形式越过边界
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// httpStatus 错误码到 HTTP 状态码的映射，映射不改写错误码本身
var httpStatus = map[string]int{
	"VALIDATION":               http.StatusBadRequest,
	"SELF_TRANSFER_FORBIDDEN":  http.StatusBadRequest,
	"INSUFFICIENT_FUNDS":       http.StatusUnprocessableEntity,
	"RECIPIENT_LIMIT_EXCEEDED": http.StatusUnprocessableEntity,
	"LIMIT_EXCEEDED":           http.StatusUnprocessableEntity,
	"FRAUD_BLOCKED":            http.StatusForbidden,
	"CONTENTION":               http.StatusConflict,
	"INVALID_STATE_TRANSITION": http.StatusConflict,
	"ACCOUNT_NOT_FOUND":        http.StatusNotFound,
	"EVENT_CLOSED":             http.StatusConflict,
	"NOT_FOUND":                http.StatusNotFound,
	"FORBIDDEN":                http.StatusForbidden,
	"UNAUTHORIZED":             http.StatusUnauthorized,
	"INTERNAL":                 http.StatusInternalServerError,
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Error(c *gin.Context, code, message string) {
	status, ok := httpStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message},
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, "VALIDATION", message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, "INTERNAL", message)
}
