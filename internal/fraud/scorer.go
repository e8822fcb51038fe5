package fraud

import (
	"time"

	"github.com/shopspring/decimal"

	"moneyflow/internal/config"
	"moneyflow/internal/model"
)

// ============================================================================
// 风控信号与决策常量
// ============================================================================

const (
	SignalUnusualAmount   = "UNUSUAL_AMOUNT"   // 金额远超近期均值
	SignalNewMaximum      = "NEW_MAXIMUM"      // 金额远超历史最大
	SignalVelocity        = "VELOCITY"         // 当日笔数过多
	SignalRapidSuccession = "RAPID_SUCCESSION" // 距上一笔间隔过短
	SignalRepeatRecipient = "REPEAT_RECIPIENT" // 短期内频繁转给同一收款人
	SignalRoundNumber     = "ROUND_NUMBER"     // 大额整数金额

	DecisionApprove = "APPROVE" // 放行
	DecisionReview  = "REVIEW"  // 放行但标记人工复核
	DecisionBlock   = "BLOCK"   // 拒绝，余额不动
)

// Assessment 一次评分结果
// 不落库，由引擎按需写进审计节点的 payload 里留痕
type Assessment struct {
	Score    int      `json:"score"`
	Signals  []string `json:"signals"`
	Decision string   `json:"decision"`
}

// Candidate 待评分的候选操作
type Candidate struct {
	SenderAccountID    int64
	RecipientAccountID *int64 // 集资为空
	Amount             decimal.Decimal
}

// Scorer 风控评分器
// 纯函数式：同样的窗口、候选和时刻永远得到同样的分数，
// 权重和阈值在构造时注入，运行期不可变
type Scorer struct {
	cfg config.FraudConfig
}

func NewScorer(cfg config.FraudConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// WindowStart 评分需要回看的最早时刻
func (s *Scorer) WindowStart(now time.Time) time.Time {
	return now.AddDate(0, 0, -s.cfg.WindowDays)
}

// Score 对候选操作评分
// history 是付款方在回看窗口内的流水（按时间升序）；
// 均值/最大值统计只看 COMPLETED，避免被拒绝的尝试反复自我放大
func (s *Scorer) Score(history []*model.Transaction, candidate Candidate, now time.Time) Assessment {
	assessment := Assessment{Signals: []string{}}

	var completed []*model.Transaction
	for _, t := range history {
		if t.Status == model.TransactionStatusCompleted {
			completed = append(completed, t)
		}
	}

	if sig, ok := s.checkUnusualAmount(completed, candidate.Amount); ok {
		assessment.add(sig, s.cfg.UnusualAmountWeight)
	}
	if sig, ok := s.checkNewMaximum(completed, candidate.Amount); ok {
		assessment.add(sig, s.cfg.NewMaximumWeight)
	}
	if sig, ok := s.checkVelocity(completed, now); ok {
		assessment.add(sig, s.cfg.VelocityWeight)
	}
	if sig, ok := s.checkRapidSuccession(completed, now); ok {
		assessment.add(sig, s.cfg.RapidWeight)
	}
	if sig, ok := s.checkRepeatRecipient(completed, candidate, now); ok {
		assessment.add(sig, s.cfg.RepeatWeight)
	}
	if sig, ok := s.checkRoundNumber(candidate.Amount); ok {
		assessment.add(sig, s.cfg.RoundNumberWeight)
	}

	if assessment.Score > 100 {
		assessment.Score = 100
	}

	switch {
	case assessment.Score >= s.cfg.BlockThreshold:
		assessment.Decision = DecisionBlock
	case assessment.Score >= s.cfg.ReviewThreshold:
		assessment.Decision = DecisionReview
	default:
		assessment.Decision = DecisionApprove
	}
	return assessment
}

func (a *Assessment) add(signal string, weight int) {
	a.Signals = append(a.Signals, signal)
	a.Score += weight
}

// checkUnusualAmount 金额达到近期均值的 N 倍
func (s *Scorer) checkUnusualAmount(completed []*model.Transaction, amount decimal.Decimal) (string, bool) {
	if len(completed) == 0 {
		return "", false
	}
	sum := decimal.Zero
	for _, t := range completed {
		sum = sum.Add(t.Amount)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(completed))))
	threshold := avg.Mul(decimal.NewFromFloat(s.cfg.UnusualAmountFactor))
	if avg.IsPositive() && amount.GreaterThanOrEqual(threshold) {
		return SignalUnusualAmount, true
	}
	return "", false
}

// checkNewMaximum 金额达到历史最大的 N 倍
func (s *Scorer) checkNewMaximum(completed []*model.Transaction, amount decimal.Decimal) (string, bool) {
	if len(completed) == 0 {
		return "", false
	}
	max := decimal.Zero
	for _, t := range completed {
		if t.Amount.GreaterThan(max) {
			max = t.Amount
		}
	}
	threshold := max.Mul(decimal.NewFromFloat(s.cfg.NewMaximumFactor))
	if max.IsPositive() && amount.GreaterThanOrEqual(threshold) {
		return SignalNewMaximum, true
	}
	return "", false
}

// checkVelocity 当日笔数超限
func (s *Scorer) checkVelocity(completed []*model.Transaction, now time.Time) (string, bool) {
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	count := 0
	for _, t := range completed {
		if !t.CreatedAt.Before(dayStart) {
			count++
		}
	}
	if count > s.cfg.DailyVelocityLimit {
		return SignalVelocity, true
	}
	return "", false
}

// checkRapidSuccession 距上一笔成功交易不足 N 秒
func (s *Scorer) checkRapidSuccession(completed []*model.Transaction, now time.Time) (string, bool) {
	if len(completed) == 0 {
		return "", false
	}
	last := completed[len(completed)-1]
	if now.Sub(last.CreatedAt) < time.Duration(s.cfg.RapidSeconds)*time.Second {
		return SignalRapidSuccession, true
	}
	return "", false
}

// checkRepeatRecipient N 天内转给同一收款人超过 M 笔
func (s *Scorer) checkRepeatRecipient(completed []*model.Transaction, candidate Candidate, now time.Time) (string, bool) {
	if candidate.RecipientAccountID == nil {
		return "", false
	}
	since := now.AddDate(0, 0, -s.cfg.RepeatRecipientDays)

	count := 0
	for _, t := range completed {
		if t.CreatedAt.Before(since) {
			continue
		}
		if t.RecipientAccountID != nil && *t.RecipientAccountID == *candidate.RecipientAccountID {
			count++
		}
	}
	if count > s.cfg.RepeatRecipientMax {
		return SignalRepeatRecipient, true
	}
	return "", false
}

// checkRoundNumber 大额整数金额（无分位）
func (s *Scorer) checkRoundNumber(amount decimal.Decimal) (string, bool) {
	if amount.IsInteger() && amount.GreaterThanOrEqual(decimal.NewFromFloat(s.cfg.RoundNumberMin)) {
		return SignalRoundNumber, true
	}
	return "", false
}
