package robustness

import (
	"math"
	"sort"

	"backtest-lab/internal/domain"
)

// sortTrades returns a copy of trades ordered by CloseTime ASC, ID ASC.
func sortTrades(trades []domain.Trade) []domain.Trade {
	sorted := make([]domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CloseTime.Equal(sorted[j].CloseTime) {
			return sorted[i].CloseTime.Before(sorted[j].CloseTime)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// computeMean calculates the arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// equityStats walks the cumulative P&L curve.
// Drawdown at each point is peak - cumulative; the peak starts at zero.
type equityStats struct {
	total       float64
	peak        float64
	maxDrawdown float64
}

func computeEquity(pnls []float64) equityStats {
	var s equityStats
	cumulative := 0.0
	for _, p := range pnls {
		cumulative += p
		if cumulative > s.peak {
			s.peak = cumulative
		}
		if dd := s.peak - cumulative; dd > s.maxDrawdown {
			s.maxDrawdown = dd
		}
	}
	s.total = cumulative
	return s
}

// computeMaxConsecutiveLosses finds the longest run of losing trades.
// Break-even trades end a run.
func computeMaxConsecutiveLosses(trades []domain.Trade) int {
	maxStreak, current := 0, 0
	for _, t := range trades {
		if t.Lost() {
			current++
			if current > maxStreak {
				maxStreak = current
			}
			continue
		}
		current = 0
	}
	return maxStreak
}

// Profit factor is capped so results stay JSON-encodable.
const maxProfitFactor = 100

func computeProfitFactor(pnls []float64) float64 {
	gains, losses := 0.0, 0.0
	for _, p := range pnls {
		if p > 0 {
			gains += p
		} else {
			losses -= p
		}
	}
	if losses == 0 {
		if gains > 0 {
			return maxProfitFactor
		}
		return 0
	}
	return math.Min(gains/losses, maxProfitFactor)
}

// computeSharpe is the per-trade mean over sample stddev of returns, not annualized.
func computeSharpe(returns []float64) float64 {
	mean := computeMean(returns)
	sd := computeStddev(returns, mean)
	if sd == 0 {
		return 0
	}
	return mean / sd
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
