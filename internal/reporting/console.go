package reporting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/jobs"
)

// PrintLabReport writes the lab analysis as a console table.
func PrintLabReport(w io.Writer, r *domain.LabReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("LAB %s  %s", r.LabID, r.GeneratedAt.Format("2006-01-02 15:04:05")))
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Backtest", "Risk", "Score", "ROI %", "Max DD %", "Streak", "Trades", "Win %", "Leverage", "Position %"})
	for _, row := range AnalysisRows(r) {
		t.AppendRow(table.Row{
			row.BacktestID,
			riskColor(row.RiskLevel).Sprint(row.RiskLevel),
			fmt.Sprintf("%.1f", row.Score),
			fmt.Sprintf("%.2f", row.ROI),
			fmt.Sprintf("%.2f", row.MaxDrawdownPct*100),
			row.LossStreak,
			row.Trades,
			fmt.Sprintf("%.1f", row.WinRate*100),
			fmt.Sprintf("%.0fx", row.SafeLeverage),
			fmt.Sprintf("%.1f", row.PositionPct),
		})
	}
	if len(r.Skipped) > 0 {
		t.AppendSeparator()
		for _, s := range r.Skipped {
			t.AppendRow(table.Row{orDash(s.BacktestID), "SKIPPED", s.Reason}, table.RowConfig{AutoMerge: true})
		}
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()
}

// PrintWFO writes the WFO period table and stability summary.
func PrintWFO(w io.Writer, wfo *domain.WFOJob) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("WFO %s  [%s, %s, %s]", wfo.Label, wfo.Mode, wfo.SliceMode, wfo.Status))
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"#", "Test Window", "ROI %", "Train ROI %", "Sharpe", "Max DD %", "Note"})
	for _, p := range PeriodRows(wfo) {
		window := p.TestStart.Format("2006-01-02") + " → " + p.TestEnd.Format("2006-01-02")
		if p.Failed() {
			t.AppendRow(table.Row{p.PeriodIndex, window, "-", "-", "-", "-", text.FgRed.Sprint(p.Reason)})
			continue
		}
		t.AppendRow(table.Row{
			p.PeriodIndex, window,
			fmt.Sprintf("%.2f", p.ROI),
			formatOptional(p.TrainROI),
			fmt.Sprintf("%.4f", p.Sharpe),
			fmt.Sprintf("%.2f", p.MaxDrawdown*100),
			"",
		})
	}

	if r := wfo.Results; r != nil {
		t.AppendFooter(table.Row{"", "mean / stdev", fmt.Sprintf("%.2f", r.MeanROI), fmt.Sprintf("± %.2f", r.StdDevROI),
			fmt.Sprintf("%.4f", r.MeanSharpe), fmt.Sprintf("%.2f", r.WorstDrawdown*100),
			fmt.Sprintf("consistency %.2f, degraded %t", r.ConsistencyRatio, r.PerformanceDegraded)})
	}
	t.Render()
}

// PrintMonitorSummary writes one monitor pass summary.
func PrintMonitorSummary(w io.Writer, s *jobs.MonitorSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("MONITOR " + s.StartedAt.Format("15:04:05"))
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Completed", s.Completed},
		{"Failed", s.Failed},
		{"Still pending", s.StillPending},
		{"Skipped", s.Skipped},
		{"Duration", s.Duration},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 10, Align: text.AlignRight},
	})
	t.Render()
}

// PrintJob writes the status of one job.
func PrintJob(w io.Writer, j *domain.BacktestJob) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("JOB " + j.JobID)
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Type", j.JobType},
		{"Status", j.Status},
		{"Lab", j.LabID},
		{"Backtest", orDash(j.BacktestID)},
		{"Market", j.MarketTag},
		{"Range", j.StartTime.Format("2006-01-02") + " → " + j.EndTime.Format("2006-01-02")},
		{"Progress", fmt.Sprintf("%.0f%%", j.Progress)},
	})
	if j.ErrorMessage != "" {
		t.AppendRow(table.Row{"Error", text.FgRed.Sprint(j.ErrorMessage)})
	}
	t.Render()
}

func riskColor(level domain.RiskLevel) text.Colors {
	switch level {
	case domain.RiskCritical:
		return text.Colors{text.FgHiRed, text.Bold}
	case domain.RiskHigh:
		return text.Colors{text.FgRed}
	case domain.RiskMedium:
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.FgGreen}
	}
}
