// Package gateway defines the contract with the remote execution platform
// and an HTTP implementation of it.
package gateway

import (
	"context"
	"time"
)

// ExecutionState is the remote lifecycle state of a lab execution.
type ExecutionState string

const (
	StateQueued    ExecutionState = "QUEUED"
	StateRunning   ExecutionState = "RUNNING"
	StateCompleted ExecutionState = "COMPLETED"
	StateFailed    ExecutionState = "FAILED"
	StateCancelled ExecutionState = "CANCELLED"
)

// LabSpec describes a lab to create for one backtest.
type LabSpec struct {
	Name      string
	ScriptID  string
	MarketTag string
	AccountID string
}

// ExecutionStatus is one observation of a running lab.
type ExecutionStatus struct {
	State    ExecutionState
	Progress float64 // 0-100
	Message  string
	// BacktestID is empty until the platform assigns an execution handle.
	BacktestID string
}

// Gateway is the remote execution platform as seen by the engine.
type Gateway interface {
	// CreateLab creates a lab and returns its id.
	CreateLab(ctx context.Context, spec LabSpec) (string, error)

	// StartExecution starts the lab over [start, end).
	StartExecution(ctx context.Context, labID string, start, end time.Time) error

	// GetExecutionStatus reports the execution state of a lab.
	// backtestID may be empty when the handle is not yet known.
	GetExecutionStatus(ctx context.Context, labID, backtestID string) (*ExecutionStatus, error)

	// GetBacktestResult returns the raw result payload of a completed backtest.
	GetBacktestResult(ctx context.Context, labID, backtestID string) ([]byte, error)

	// ProbeHistoryAvailable reports whether market data exists for the given UTC day.
	ProbeHistoryAvailable(ctx context.Context, marketTag string, day time.Time) (bool, error)
}
