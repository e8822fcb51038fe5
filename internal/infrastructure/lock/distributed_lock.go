package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 用于抑制重复提交：同一个收款请求的并发"同意"先拿锁再二次
// 校验状态。台账自身的并发正确性靠存储层的乐观锁版本号，
// 这里只是挡在前面的减震层。
//
// 加锁：SET key value NX EX timeout（value 标识持有者，防止误删）
// 释放：Lua 脚本保证"校验持有者 + 删除"的原子性
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	// NX 保证互斥，EX 防止持有者崩溃后死锁
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// 持有者校验防止把别人的锁删掉（自己超时后锁被他人取得的场景）
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewApprovalLock 收款请求维度的同意锁
// 按请求号加锁：同一请求的并发同意互斥，不同请求互不影响
func NewApprovalLock(client *redis.Client, requestNo, token string) *DistributedLock {
	key := fmt.Sprintf("request:lock:approve:%s", requestNo)
	return NewDistributedLock(client, key, token, 30*time.Second)
}
