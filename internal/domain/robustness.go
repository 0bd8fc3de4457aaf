package domain

import "time"

// RiskLevel classifies a strategy's robustness.
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "VERY_LOW"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RobustnessMetrics is derived from a completed backtest's trades.
// It is recomputed on demand and only ever cached.
type RobustnessMetrics struct {
	BacktestID string `json:"backtest_id"`
	LabID      string `json:"lab_id,omitempty"`

	OverallROI      float64   `json:"overall_roi"` // percent
	RobustnessScore float64   `json:"robustness_score"`
	RiskLevel       RiskLevel `json:"risk_level"`

	// MaxDrawdownPct is a fraction of capital (0.25 == 25%).
	MaxDrawdownPct        float64 `json:"max_drawdown_pct"`
	ConsecutiveLossStreak int     `json:"consecutive_loss_streak"`
	AccountBlowupRisk     bool    `json:"account_blowup_risk"`
	SafeLeverage          float64 `json:"safe_leverage"`

	TotalTrades            int     `json:"total_trades"`
	WinRate                float64 `json:"win_rate"`
	ProfitFactor           float64 `json:"profit_factor"`
	Sharpe                 float64 `json:"sharpe"`
	RecommendedPositionPct float64 `json:"recommended_position_pct"`
	StartingBalance        float64 `json:"starting_balance"`
}

// CacheEntry is an immutable raw result blob keyed by (LabID, BacktestID).
type CacheEntry struct {
	LabID      string
	BacktestID string
	Blob       []byte
	CreatedAt  time.Time
}

// ReportEntry is an immutable analysis report keyed by (LabID, Timestamp).
type ReportEntry struct {
	LabID     string
	Timestamp time.Time
	Key       string // compact identifier, see idhash.ReportKey
	Blob      []byte
}

// LabReport is the analysis report persisted per lab.
type LabReport struct {
	LabID       string               `json:"lab_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Analyses    []*RobustnessMetrics `json:"analyses"`
	Skipped     []SkippedBacktest    `json:"skipped,omitempty"`
}

// SkippedBacktest records a backtest excluded from a lab report and why.
type SkippedBacktest struct {
	JobID      string `json:"job_id"`
	BacktestID string `json:"backtest_id,omitempty"`
	Reason     string `json:"reason"`
}
