package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders analysis rows as a CSV string.
func RenderCSV(rows []AnalysisRow) string {
	var sb strings.Builder

	sb.WriteString("backtest_id,risk_level,robustness_score,roi_pct,max_drawdown_pct,")
	sb.WriteString("loss_streak,trades,win_rate,profit_factor,")
	sb.WriteString("safe_leverage,position_pct,blowup_risk\n")

	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%.4f,%.6f,%.6f,%d,%d,%.6f,%.6f,%.1f,%.4f,%t\n",
			r.BacktestID,
			r.RiskLevel,
			r.Score,
			r.ROI,
			r.MaxDrawdownPct,
			r.LossStreak,
			r.Trades,
			r.WinRate,
			r.ProfitFactor,
			r.SafeLeverage,
			r.PositionPct,
			r.BlowupRisk,
		))
	}

	return sb.String()
}
