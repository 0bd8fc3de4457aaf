package reporting

import (
	"fmt"
	"strings"
	"time"

	"backtest-lab/internal/domain"
)

// RenderMarkdown renders a lab report as Markdown.
func RenderMarkdown(r *domain.LabReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Lab Report: %s\n\n", r.LabID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Backtests analyzed: %d | Skipped: %d\n\n", len(r.Analyses), len(r.Skipped)))

	sb.WriteString("## Robustness\n\n")
	rows := AnalysisRows(r)
	if len(rows) > 0 {
		sb.WriteString("| Backtest | Risk | Score | ROI% | MaxDD% | Streak | Trades | WinRate | Leverage | Position% |\n")
		sb.WriteString("|----------|------|-------|------|--------|--------|--------|---------|----------|-----------|\n")
		for _, row := range rows {
			sb.WriteString(fmt.Sprintf("| %s | %s | %.1f | %.2f | %.2f | %d | %d | %.4f | %.0fx | %.1f |\n",
				row.BacktestID, row.RiskLevel, row.Score, row.ROI, row.MaxDrawdownPct*100,
				row.LossStreak, row.Trades, row.WinRate, row.SafeLeverage, row.PositionPct))
		}
	} else {
		sb.WriteString("No analyses available.\n")
	}
	sb.WriteString("\n")

	if len(r.Skipped) > 0 {
		sb.WriteString("## Skipped\n\n")
		for _, s := range r.Skipped {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", s.JobID, orDash(s.BacktestID), s.Reason))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderWFOMarkdown renders a WFO job and its stability report as Markdown.
func RenderWFOMarkdown(w *domain.WFOJob) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Walk-Forward Report: %s\n\n", w.Label))
	sb.WriteString(fmt.Sprintf("ID: %s | Status: %s | Mode: %s | Slices: %s\n\n", w.WFOID, w.Status, w.Mode, w.SliceMode))
	sb.WriteString(fmt.Sprintf("Script: %s | Market: %s | Account: %s\n\n", w.BaseScriptID, w.BaseMarketTag, w.BaseAccountID))

	r := w.Results
	if r == nil {
		sb.WriteString("Results pending.\n")
		return sb.String()
	}

	sb.WriteString("## Stability\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Mean ROI %% | %.2f |\n", r.MeanROI))
	sb.WriteString(fmt.Sprintf("| StdDev ROI %% | %.2f |\n", r.StdDevROI))
	sb.WriteString(fmt.Sprintf("| Consistency | %.4f |\n", r.ConsistencyRatio))
	sb.WriteString(fmt.Sprintf("| Mean Sharpe | %.4f |\n", r.MeanSharpe))
	sb.WriteString(fmt.Sprintf("| Worst Drawdown %% | %.2f |\n", r.WorstDrawdown*100))
	sb.WriteString(fmt.Sprintf("| Best Period | %d |\n", r.BestPeriod))
	sb.WriteString(fmt.Sprintf("| Worst Period | %d |\n", r.WorstPeriod))
	if r.DegradationEvaluated {
		sb.WriteString(fmt.Sprintf("| Degraded Periods | %d (margin %.2f) |\n", r.DegradedPeriods, r.DegradationMargin))
		sb.WriteString(fmt.Sprintf("| Performance Degraded | %t |\n", r.PerformanceDegraded))
	}
	sb.WriteString("\n")

	sb.WriteString("## Periods\n\n")
	sb.WriteString("| # | Test Window | ROI% | Train ROI% | Sharpe | MaxDD% | Note |\n")
	sb.WriteString("|---|-------------|------|------------|--------|--------|------|\n")
	for _, p := range PeriodRows(w) {
		window := p.TestStart.Format("2006-01-02") + " → " + p.TestEnd.Format("2006-01-02")
		if p.Failed() {
			sb.WriteString(fmt.Sprintf("| %d | %s | - | - | - | - | FAILED: %s |\n", p.PeriodIndex, window, p.Reason))
			continue
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %.2f | %s | %.4f | %.2f | |\n",
			p.PeriodIndex, window, p.ROI, formatOptional(p.TrainROI), p.Sharpe, p.MaxDrawdown*100))
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
