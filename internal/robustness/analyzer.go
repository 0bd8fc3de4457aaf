// Package robustness scores a completed backtest from its raw trades.
package robustness

import (
	"fmt"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/observability"
)

// Thresholds for blow-up risk.
const (
	BlowupDrawdown = 0.5
	BlowupStreak   = 10
)

// Score weights. Each component is bounded by its weight; they sum to 100.
const (
	weightDrawdown   = 40.0
	weightWinRate    = 25.0
	weightStreak     = 15.0
	weightTradeCount = 10.0
	weightStability  = 10.0
)

// DefaultRiskBudget is the fraction of capital a strategy may lose in its worst drawdown.
const DefaultRiskBudget = 0.2

// Options tune the analysis.
type Options struct {
	// RiskBudget drives the recommended position size. Defaults to DefaultRiskBudget.
	RiskBudget float64
	// StartingBalance is used when the result does not report one.
	StartingBalance float64
}

// Analyze computes robustness metrics from a backtest result.
// It is a pure function; zero trades yield domain.ErrInsufficientData.
func Analyze(result *domain.BacktestResult, opts Options) (*domain.RobustnessMetrics, error) {
	if result == nil || len(result.Trades) == 0 {
		return nil, domain.ErrInsufficientData
	}
	if opts.RiskBudget <= 0 {
		opts.RiskBudget = DefaultRiskBudget
	}

	trades := sortTrades(result.Trades)
	n := len(trades)

	balance := result.Summary.StartingBalance
	if balance <= 0 {
		balance = opts.StartingBalance
	}

	pnls := make([]float64, n)
	wins := 0
	for i, t := range trades {
		pnls[i] = t.PnL
		if t.Won() {
			wins++
		}
	}

	eq := computeEquity(pnls)
	ddPct := drawdownFraction(eq.maxDrawdown, eq.peak, balance)
	streak := computeMaxConsecutiveLosses(trades)
	winRate := float64(wins) / float64(n)

	returns := pnls
	if balance > 0 {
		returns = make([]float64, n)
		for i, p := range pnls {
			returns[i] = p / balance
		}
	}
	sharpe := computeSharpe(returns)

	m := &domain.RobustnessMetrics{
		BacktestID:             result.BacktestID,
		LabID:                  result.LabID,
		OverallROI:             overallROI(result, eq.total, balance),
		MaxDrawdownPct:         ddPct,
		ConsecutiveLossStreak:  streak,
		AccountBlowupRisk:      ddPct > BlowupDrawdown || streak > BlowupStreak,
		SafeLeverage:           SafeLeverage(ddPct),
		TotalTrades:            n,
		WinRate:                winRate,
		ProfitFactor:           computeProfitFactor(pnls),
		Sharpe:                 sharpe,
		RecommendedPositionPct: RecommendedPositionPct(ddPct, opts.RiskBudget),
		StartingBalance:        balance,
	}
	m.RobustnessScore = Score(ddPct, winRate, streak, n, sharpe)
	m.RiskLevel = Classify(m.AccountBlowupRisk, m.RobustnessScore)

	observability.RecordAnalysis(string(m.RiskLevel))
	return m, nil
}

// drawdownFraction is maxDD / max(peak, balance). Without any base a loss counts as total.
func drawdownFraction(maxDD, peak, balance float64) float64 {
	base := peak
	if balance > base {
		base = balance
	}
	if base <= 0 {
		if maxDD > 0 {
			return 1
		}
		return 0
	}
	return maxDD / base
}

// overallROI prefers the platform-reported ROI and falls back to P&L over balance.
func overallROI(result *domain.BacktestResult, total, balance float64) float64 {
	if len(result.Summary.Raw) > 0 && result.Summary.ROI != 0 {
		return result.Summary.ROI
	}
	if balance > 0 {
		return total / balance * 100
	}
	return 0
}

// Score is the weighted composite robustness score in [0, 100].
// It strictly decreases with drawdown and loss streak and strictly increases
// with win rate and trade count.
func Score(drawdownPct, winRate float64, lossStreak, trades int, sharpe float64) float64 {
	dd := weightDrawdown / (1 + 5*clamp(drawdownPct, 0, 10))
	wr := weightWinRate * clamp(winRate, 0, 1)
	st := weightStreak * 3 / (3 + float64(lossStreak))
	tc := weightTradeCount * float64(trades) / float64(trades+30)
	stab := weightStability * clamp(sharpe, 0, 1)
	return clamp(dd+wr+st+tc+stab, 0, 100)
}

// Classify maps blow-up risk and score to a risk level.
func Classify(blowup bool, score float64) domain.RiskLevel {
	switch {
	case blowup:
		return domain.RiskCritical
	case score < 30:
		return domain.RiskHigh
	case score < 50:
		return domain.RiskMedium
	case score < 70:
		return domain.RiskLow
	default:
		return domain.RiskVeryLow
	}
}

// SafeLeverage is a non-increasing step function of drawdown.
func SafeLeverage(drawdownPct float64) float64 {
	switch {
	case drawdownPct > 0.30:
		return 1
	case drawdownPct > 0.20:
		return 2
	case drawdownPct > 0.10:
		return 3
	default:
		return 5
	}
}

// RecommendedPositionPct sizes positions so the worst drawdown stays within budget.
func RecommendedPositionPct(drawdownPct, riskBudget float64) float64 {
	if drawdownPct <= 0 {
		return 100
	}
	return clamp(riskBudget/drawdownPct*100, 0, 100)
}

// Describe renders a one-line human summary.
func Describe(m *domain.RobustnessMetrics) string {
	return fmt.Sprintf("%s: score %.1f, max drawdown %.1f%%, loss streak %d, leverage %.0fx",
		m.RiskLevel, m.RobustnessScore, m.MaxDrawdownPct*100, m.ConsecutiveLossStreak, m.SafeLeverage)
}
