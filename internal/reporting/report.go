package reporting

import (
	"sort"
	"time"

	"backtest-lab/internal/domain"
)

// ReportInfo describes a saved report without decoding it.
type ReportInfo struct {
	LabID       string    `json:"lab_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Key         string    `json:"key"`
	SizeBytes   int       `json:"size_bytes"`
}

// AnalysisRow is one row of the lab analysis table.
type AnalysisRow struct {
	BacktestID     string
	RiskLevel      domain.RiskLevel
	Score          float64
	ROI            float64
	MaxDrawdownPct float64
	LossStreak     int
	Trades         int
	WinRate        float64
	ProfitFactor   float64
	SafeLeverage   float64
	PositionPct    float64
	BlowupRisk     bool
}

// PeriodRow is one row of the WFO period table. Failed periods carry a Reason.
type PeriodRow struct {
	PeriodIndex int
	TestStart   time.Time
	TestEnd     time.Time
	ROI         float64
	TrainROI    *float64
	Sharpe      float64
	MaxDrawdown float64
	Reason      string
}

// Failed reports whether the period produced no result.
func (r PeriodRow) Failed() bool {
	return r.Reason != ""
}

// AnalysisRows flattens a lab report, sorted by score DESC, backtest id ASC.
func AnalysisRows(r *domain.LabReport) []AnalysisRow {
	rows := make([]AnalysisRow, 0, len(r.Analyses))
	for _, m := range r.Analyses {
		rows = append(rows, AnalysisRow{
			BacktestID:     m.BacktestID,
			RiskLevel:      m.RiskLevel,
			Score:          m.RobustnessScore,
			ROI:            m.OverallROI,
			MaxDrawdownPct: m.MaxDrawdownPct,
			LossStreak:     m.ConsecutiveLossStreak,
			Trades:         m.TotalTrades,
			WinRate:        m.WinRate,
			ProfitFactor:   m.ProfitFactor,
			SafeLeverage:   m.SafeLeverage,
			PositionPct:    m.RecommendedPositionPct,
			BlowupRisk:     m.AccountBlowupRisk,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].BacktestID < rows[j].BacktestID
	})
	return rows
}

// PeriodRows merges successful and failed periods of a WFO job in period order.
func PeriodRows(w *domain.WFOJob) []PeriodRow {
	if w.Results == nil {
		return nil
	}
	rows := make([]PeriodRow, 0, len(w.TimePeriods))
	for _, p := range w.Results.Periods {
		rows = append(rows, PeriodRow{
			PeriodIndex: p.PeriodIndex,
			ROI:         p.ROI,
			TrainROI:    p.TrainROI,
			Sharpe:      p.Sharpe,
			MaxDrawdown: p.MaxDrawdown,
		})
	}
	for _, f := range w.Results.FailedPeriods {
		rows = append(rows, PeriodRow{PeriodIndex: f.PeriodIndex, Reason: f.Reason})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PeriodIndex < rows[j].PeriodIndex })

	for i := range rows {
		if idx := rows[i].PeriodIndex; idx >= 0 && idx < len(w.TimePeriods) {
			rows[i].TestStart = w.TimePeriods[idx].TestStart
			rows[i].TestEnd = w.TimePeriods[idx].TestEnd
		}
	}
	return rows
}
