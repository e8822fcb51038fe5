package job

import (
	"context"
	"log"
	"time"

	"moneyflow/internal/request"
)

// RequestExpiryJob 收款请求过期清扫任务
// 过期判定本身在读路径上惰性完成，这个任务只是兜底：
// 把无人再查看的 PENDING 请求也按时翻到 EXPIRED，并留审计记录
type RequestExpiryJob struct {
	requests  *request.Service
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewRequestExpiryJob(requests *request.Service) *RequestExpiryJob {
	return &RequestExpiryJob{
		requests:  requests,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (j *RequestExpiryJob) Start(ctx context.Context) {
	log.Println("[RequestExpiryJob] 请求过期清扫任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RequestExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[RequestExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *RequestExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *RequestExpiryJob) sweep(ctx context.Context) {
	expired, err := j.requests.SweepExpired(ctx, j.batchSize)
	if err != nil {
		log.Printf("[RequestExpiryJob] 清扫失败: %v", err)
		return
	}

	if expired > 0 {
		log.Printf("[RequestExpiryJob] 本次标记 %d 个过期请求", expired)
	}
}
