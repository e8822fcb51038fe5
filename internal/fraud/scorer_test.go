package fraud

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"moneyflow/internal/config"
	"moneyflow/internal/model"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func completedTransfer(amount string, recipientID int64, createdAt time.Time) *model.Transaction {
	return &model.Transaction{
		SenderAccountID:    1,
		RecipientAccountID: &recipientID,
		Amount:             dec(amount),
		Kind:               model.TransactionKindTransfer,
		Status:             model.TransactionStatusCompleted,
		CreatedAt:          createdAt,
	}
}

func testScorer() *Scorer {
	return NewScorer(config.Default().Fraud)
}

func TestScoreEmptyHistory(t *testing.T) {
	s := testScorer()
	now := time.Now()

	a := s.Score(nil, Candidate{SenderAccountID: 1, Amount: dec("50.00")}, now)

	assert.Equal(t, 0, a.Score)
	assert.Empty(t, a.Signals)
	assert.Equal(t, DecisionApprove, a.Decision)
}

func TestUnusualAmountSignal(t *testing.T) {
	s := testScorer()
	now := time.Now()

	// 近期均值 10，候选 50 = 均值的 5 倍，触发
	history := []*model.Transaction{
		completedTransfer("10.00", 2, now.Add(-48*time.Hour)),
		completedTransfer("10.00", 2, now.Add(-24*time.Hour)),
	}

	a := s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("50.00")}, now)
	assert.Contains(t, a.Signals, SignalUnusualAmount)

	a = s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("49.99")}, now)
	assert.NotContains(t, a.Signals, SignalUnusualAmount)
}

func TestNewMaximumSignal(t *testing.T) {
	s := testScorer()
	now := time.Now()

	// 历史最大 30，候选 60 = 最大的 2 倍，触发
	history := []*model.Transaction{
		completedTransfer("10.00", 2, now.Add(-72*time.Hour)),
		completedTransfer("30.00", 3, now.Add(-48*time.Hour)),
	}

	a := s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("60.00")}, now)
	assert.Contains(t, a.Signals, SignalNewMaximum)

	a = s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("59.99")}, now)
	assert.NotContains(t, a.Signals, SignalNewMaximum)
}

func TestVelocitySignal(t *testing.T) {
	cfg := config.Default().Fraud
	cfg.DailyVelocityLimit = 2
	s := NewScorer(cfg)
	now := time.Now()

	var history []*model.Transaction
	for i := 0; i < 3; i++ {
		history = append(history, completedTransfer("5.00", 2, now.Add(-time.Duration(i+2)*time.Hour)))
	}

	a := s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("5.00")}, now)
	assert.Contains(t, a.Signals, SignalVelocity)
}

func TestRapidSuccessionSignal(t *testing.T) {
	s := testScorer()
	now := time.Now()

	history := []*model.Transaction{
		completedTransfer("5.00", 2, now.Add(-10*time.Second)),
	}
	a := s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("5.00")}, now)
	assert.Contains(t, a.Signals, SignalRapidSuccession)

	history = []*model.Transaction{
		completedTransfer("5.00", 2, now.Add(-2*time.Minute)),
	}
	a = s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("5.00")}, now)
	assert.NotContains(t, a.Signals, SignalRapidSuccession)
}

func TestRepeatRecipientSignal(t *testing.T) {
	cfg := config.Default().Fraud
	cfg.RepeatRecipientMax = 2
	s := NewScorer(cfg)
	now := time.Now()

	var history []*model.Transaction
	for i := 0; i < 3; i++ {
		history = append(history, completedTransfer("5.00", 7, now.Add(-time.Duration(i+1)*24*time.Hour)))
	}

	recipient := int64(7)
	a := s.Score(history, Candidate{SenderAccountID: 1, RecipientAccountID: &recipient, Amount: dec("5.00")}, now)
	assert.Contains(t, a.Signals, SignalRepeatRecipient)

	// 集资没有收款人，该信号不参与
	a = s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("5.00")}, now)
	assert.NotContains(t, a.Signals, SignalRepeatRecipient)
}

func TestRoundNumberSignal(t *testing.T) {
	s := testScorer()
	now := time.Now()

	a := s.Score(nil, Candidate{SenderAccountID: 1, Amount: dec("1000")}, now)
	assert.Contains(t, a.Signals, SignalRoundNumber)

	a = s.Score(nil, Candidate{SenderAccountID: 1, Amount: dec("1000.50")}, now)
	assert.NotContains(t, a.Signals, SignalRoundNumber)

	a = s.Score(nil, Candidate{SenderAccountID: 1, Amount: dec("500")}, now)
	assert.NotContains(t, a.Signals, SignalRoundNumber)
}

func TestFailedTransactionsExcluded(t *testing.T) {
	s := testScorer()
	now := time.Now()

	// 被拦截的尝试不进入统计口径，否则拦截会自我放大
	failed := completedTransfer("10.00", 2, now.Add(-5*time.Second))
	failed.Status = model.TransactionStatusFailed

	a := s.Score([]*model.Transaction{failed}, Candidate{SenderAccountID: 1, Amount: dec("5.00")}, now)
	assert.Empty(t, a.Signals)
	assert.Equal(t, DecisionApprove, a.Decision)
}

func TestDecisionThresholds(t *testing.T) {
	cfg := config.Default().Fraud
	cfg.ReviewThreshold = 20
	cfg.BlockThreshold = 35
	cfg.RapidWeight = 25
	cfg.RoundNumberWeight = 15
	s := NewScorer(cfg)
	now := time.Now()

	// 25 分：达到复核线
	history := []*model.Transaction{completedTransfer("2000.00", 2, now.Add(-5*time.Second))}
	a := s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("1.50")}, now)
	assert.Equal(t, 25, a.Score)
	assert.Equal(t, DecisionReview, a.Decision)

	// 25 + 15 = 40 分：达到阻断线
	a = s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("1000")}, now)
	assert.Equal(t, 40, a.Score)
	assert.Equal(t, DecisionBlock, a.Decision)
}

func TestScoreClampedAt100(t *testing.T) {
	cfg := config.Default().Fraud
	cfg.UnusualAmountWeight = 60
	cfg.NewMaximumWeight = 60
	cfg.RoundNumberWeight = 60
	s := NewScorer(cfg)
	now := time.Now()

	history := []*model.Transaction{
		completedTransfer("100.00", 2, now.Add(-48*time.Hour)),
	}

	a := s.Score(history, Candidate{SenderAccountID: 1, Amount: dec("1000")}, now)
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, DecisionBlock, a.Decision)
}
