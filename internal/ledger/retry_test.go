package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyflow/internal/storage"
)

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(3, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversFromConflict(t *testing.T) {
	calls := 0
	err := WithRetry(3, func() error {
		calls++
		if calls < 3 {
			return storage.ErrOptimisticLock
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustedReturnsContention(t *testing.T) {
	calls := 0
	err := WithRetry(3, func() error {
		calls++
		return storage.ErrOptimisticLock
	})

	require.Error(t, err)
	le, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeContention, le.Code)
	assert.Equal(t, 3, calls)
}

func TestWithRetryPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := WithRetry(3, func() error {
		calls++
		return boom
	})

	// 非乐观锁错误不重试，原样透传
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryMinimumOneAttempt(t *testing.T) {
	calls := 0
	_ = WithRetry(0, func() error {
		calls++
		return nil
	})
	assert.Equal(t, 1, calls)
}
