package handler

import (
	"moneyflow/internal/ledger"
	"moneyflow/internal/request"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(engine *ledger.Engine, requests *request.Service) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(engine, requests)

	// API 路由组，身份统一由 AuthMiddleware 注入
	api := r.Group("/api/v1")
	api.Use(AuthMiddleware())
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.POST("/fund", h.FundAccount)
			account.GET("/history", h.GetHistory)
		}

		// 转账相关
		transfer := api.Group("/transfer")
		{
			transfer.POST("/execute", h.Transfer)
		}

		// 集资活动相关
		event := api.Group("/event")
		{
			event.POST("/create", h.CreateEvent)
			event.POST("/contribute", h.Contribute)
			event.GET("/detail", h.GetEvent)
			event.POST("/close", h.CloseEvent)
		}

		// 收款请求相关
		req := api.Group("/request")
		{
			req.POST("/create", h.CreateRequest)
			req.POST("/approve", h.ApproveRequest)
			req.POST("/decline", h.DeclineRequest)
			req.POST("/cancel", h.CancelRequest)
			req.GET("/detail", h.GetRequest)
			req.GET("/list", h.ListRequests)
		}

		// 审计链相关
		audit := api.Group("/audit")
		{
			audit.GET("/entries", h.AuditEntries)
			audit.GET("/verify", h.VerifyAudit)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
