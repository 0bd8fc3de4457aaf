package api

import (
	"encoding/json"
	"time"

	"backtest-lab/internal/domain"
)

type jobResponse struct {
	JobID        string           `json:"job_id"`
	JobType      domain.JobType   `json:"job_type"`
	Status       domain.JobStatus `json:"status"`
	LabID        string           `json:"lab_id"`
	BacktestID   string           `json:"backtest_id,omitempty"`
	ScriptID     string           `json:"script_id"`
	MarketTag    string           `json:"market_tag"`
	AccountID    string           `json:"account_id"`
	Label        string           `json:"label,omitempty"`
	ParentID     string           `json:"parent_id,omitempty"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	Progress     float64          `json:"progress"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Results      json.RawMessage  `json:"results,omitempty"`
}

func newJobResponse(j *domain.BacktestJob) jobResponse {
	return jobResponse{
		JobID:        j.JobID,
		JobType:      j.JobType,
		Status:       j.Status,
		LabID:        j.LabID,
		BacktestID:   j.BacktestID,
		ScriptID:     j.ScriptID,
		MarketTag:    j.MarketTag,
		AccountID:    j.AccountID,
		Label:        j.Label,
		ParentID:     j.ParentID,
		StartTime:    j.StartTime,
		EndTime:      j.EndTime,
		Progress:     j.Progress,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
		Results:      j.Results,
	}
}

type wfoResponse struct {
	WFOID       string                  `json:"wfo_id"`
	Label       string                  `json:"label"`
	ScriptID    string                  `json:"script_id"`
	MarketTag   string                  `json:"market_tag"`
	AccountID   string                  `json:"account_id"`
	Mode        domain.WindowMode       `json:"mode"`
	SliceMode   domain.SliceMode        `json:"slice_mode"`
	Status      domain.JobStatus        `json:"status"`
	Periods     []domain.TimePeriod     `json:"periods"`
	Slices      []domain.WFOSlice       `json:"slices"`
	CreatedAt   time.Time               `json:"created_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	Results     *domain.StabilityReport `json:"results,omitempty"`
}

func newWFOResponse(w *domain.WFOJob) wfoResponse {
	return wfoResponse{
		WFOID:       w.WFOID,
		Label:       w.Label,
		ScriptID:    w.BaseScriptID,
		MarketTag:   w.BaseMarketTag,
		AccountID:   w.BaseAccountID,
		Mode:        w.Mode,
		SliceMode:   w.SliceMode,
		Status:      w.Status,
		Periods:     w.TimePeriods,
		Slices:      w.Slices,
		CreatedAt:   w.CreatedAt,
		CompletedAt: w.CompletedAt,
		Results:     w.Results,
	}
}
