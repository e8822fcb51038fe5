package ledger

import (
	"errors"

	"moneyflow/internal/storage"
)

// WithRetry 有界重试组合子
// 包住一个完整的"读-校验-写"闭包：闭包内任何一次乐观锁冲突都
// 从头重试整个闭包（重新快照余额和版本），其余错误原样透传。
// 重试耗尽后以 CONTENTION 收尾，绝不无限阻塞。
// 审计序号在并发事务间撞车时存储层同样上抛乐观锁冲突，
// 所以所有带链追加的提交单元都要裹在这里面
func WithRetry(maxAttempts int, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = op()
		if !errors.Is(err, storage.ErrOptimisticLock) {
			return err
		}
	}
	return NewError(CodeContention, "并发冲突持续存在，请稍后重试")
}
