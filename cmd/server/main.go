package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moneyflow/internal/audit"
	"moneyflow/internal/config"
	"moneyflow/internal/fraud"
	"moneyflow/internal/handler"
	"moneyflow/internal/infrastructure/cache"
	"moneyflow/internal/infrastructure/database"
	"moneyflow/internal/infrastructure/mq"
	"moneyflow/internal/job"
	"moneyflow/internal/ledger"
	"moneyflow/internal/repository"
	"moneyflow/internal/request"
	"moneyflow/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 组装核心组件：存储 -> 审计链 -> 风控 -> 台账引擎 -> 收款请求
	stores := repository.NewStores(db, &cfg.Ledger)
	chain := audit.NewChain()
	scorer := fraud.NewScorer(cfg.Fraud)
	engine := ledger.NewEngine(stores, chain, scorer, cfg)
	requests := request.NewService(stores, engine, chain, redisClient, cfg)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(stores)
	go outboxSender.Start(ctx)

	expiryJob := job.NewRequestExpiryJob(requests)
	go expiryJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(engine, requests)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
