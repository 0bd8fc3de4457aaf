package domain

import (
	"encoding/json"
	"time"
)

// JobType identifies how a backtest job was requested.
type JobType string

const (
	JobTypeIndividual JobType = "individual"
	JobTypeLabBatch   JobType = "lab-batch"
	JobTypeWFOSlice   JobType = "wfo-slice"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeIndividual, JobTypeLabBatch, JobTypeWFOSlice:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a backtest job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Allowed: pending→running, pending→failed, running→completed, running→failed.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// BacktestJob is one request to run a strategy over [StartTime, EndTime).
type BacktestJob struct {
	JobID   string
	JobType JobType

	// LabID is assigned by the remote platform when the lab is created.
	LabID string
	// BacktestID stays empty until the gateway reports a concrete execution handle.
	BacktestID string

	ScriptID  string
	MarketTag string
	AccountID string
	Label     string

	// ParentID links wfo-slice jobs to their WFO job.
	ParentID string

	StartTime time.Time
	EndTime   time.Time

	Status       JobStatus
	Progress     float64 // last observed progress, 0-100
	ErrorMessage string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	// Results holds the raw summary payload once completed.
	Results json.RawMessage
}

// Clone returns a deep copy of the job.
func (j *BacktestJob) Clone() *BacktestJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Results != nil {
		c.Results = append(json.RawMessage(nil), j.Results...)
	}
	return &c
}

// Duration returns the length of the tested range.
func (j *BacktestJob) Duration() time.Duration {
	return j.EndTime.Sub(j.StartTime)
}
