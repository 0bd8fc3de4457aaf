// Package stub provides a scriptable in-process gateway.Gateway for tests and demo runs.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"backtest-lab/internal/gateway"
)

// ErrNotFound is returned for unknown labs or results.
var ErrNotFound = errors.New("not found")

// Lab is the stub's view of one created lab.
type Lab struct {
	ID      string
	Spec    gateway.LabSpec
	Start   time.Time
	End     time.Time
	Started bool
	Status  gateway.ExecutionStatus
}

// Gateway implements gateway.Gateway in memory.
type Gateway struct {
	mu sync.Mutex

	labs    map[string]*Lab
	results map[string][]byte // keyed by backtest id
	nextID  int

	// history cutoff per market; days at or after the cutoff have data
	cutoffs map[string]time.Time
	probes  map[string]int

	probeFailures int
	probeErr      error
	probeDelay    time.Duration

	// Injected errors; nil means success.
	CreateLabErr error
	StartErr     error
	StatusErr    map[string]error // keyed by lab id
	ResultErr    map[string]error // keyed by backtest id
}

// New creates an empty stub gateway.
func New() *Gateway {
	return &Gateway{
		labs:      make(map[string]*Lab),
		results:   make(map[string][]byte),
		cutoffs:   make(map[string]time.Time),
		probes:    make(map[string]int),
		StatusErr: make(map[string]error),
		ResultErr: make(map[string]error),
	}
}

// CreateLab registers a new lab.
func (g *Gateway) CreateLab(_ context.Context, spec gateway.LabSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CreateLabErr != nil {
		return "", g.CreateLabErr
	}
	g.nextID++
	id := fmt.Sprintf("lab-%d", g.nextID)
	g.labs[id] = &Lab{
		ID:     id,
		Spec:   spec,
		Status: gateway.ExecutionStatus{State: gateway.StateQueued},
	}
	return id, nil
}

// StartExecution marks the lab started.
func (g *Gateway) StartExecution(_ context.Context, labID string, start, end time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.StartErr != nil {
		return g.StartErr
	}
	lab, ok := g.labs[labID]
	if !ok {
		return ErrNotFound
	}
	lab.Start, lab.End, lab.Started = start, end, true
	return nil
}

// GetExecutionStatus returns the scripted status of a lab.
func (g *Gateway) GetExecutionStatus(_ context.Context, labID, _ string) (*gateway.ExecutionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.StatusErr[labID]; err != nil {
		return nil, err
	}
	lab, ok := g.labs[labID]
	if !ok {
		return nil, ErrNotFound
	}
	st := lab.Status
	return &st, nil
}

// GetBacktestResult returns the stored result payload.
func (g *Gateway) GetBacktestResult(_ context.Context, _, backtestID string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ResultErr[backtestID]; err != nil {
		return nil, err
	}
	blob, ok := g.results[backtestID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// ProbeHistoryAvailable reports availability against the configured cutoff.
// Markets without a cutoff have no history.
func (g *Gateway) ProbeHistoryAvailable(ctx context.Context, marketTag string, day time.Time) (bool, error) {
	g.mu.Lock()
	g.probes[marketTag]++
	delay := g.probeDelay
	var err error
	if g.probeFailures > 0 {
		g.probeFailures--
		err = g.probeErr
	}
	cutoff, ok := g.cutoffs[marketTag]
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return !day.Before(cutoff), nil
}

// SetHistoryCutoff sets the first day with data for a market.
func (g *Gateway) SetHistoryCutoff(marketTag string, cutoff time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cutoffs[marketTag] = cutoff.UTC()
}

// FailProbes makes the next n probes return err.
func (g *Gateway) FailProbes(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probeFailures, g.probeErr = n, err
}

// SetProbeDelay delays every probe, honoring context cancellation.
func (g *Gateway) SetProbeDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probeDelay = d
}

// Probes returns the number of probes made for a market.
func (g *Gateway) Probes(marketTag string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probes[marketTag]
}

// Lab returns a copy of a lab, or nil.
func (g *Gateway) Lab(labID string) *Lab {
	g.mu.Lock()
	defer g.mu.Unlock()
	lab, ok := g.labs[labID]
	if !ok {
		return nil
	}
	c := *lab
	return &c
}

// LabIDs returns all created lab ids in creation order.
func (g *Gateway) LabIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.labs))
	for i := 1; i <= g.nextID; i++ {
		if _, ok := g.labs[fmt.Sprintf("lab-%d", i)]; ok {
			ids = append(ids, fmt.Sprintf("lab-%d", i))
		}
	}
	return ids
}

// SetStatus scripts the next status observation for a lab.
func (g *Gateway) SetStatus(labID string, st gateway.ExecutionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lab, ok := g.labs[labID]; ok {
		lab.Status = st
	}
}

// Complete marks the lab completed with the given backtest id and result payload.
func (g *Gateway) Complete(labID, backtestID string, blob []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lab, ok := g.labs[labID]; ok {
		lab.Status = gateway.ExecutionStatus{State: gateway.StateCompleted, Progress: 100, BacktestID: backtestID}
	}
	g.results[backtestID] = append([]byte(nil), blob...)
}

// Fail marks the lab failed with a message.
func (g *Gateway) Fail(labID, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lab, ok := g.labs[labID]; ok {
		lab.Status = gateway.ExecutionStatus{State: gateway.StateFailed, Message: message, BacktestID: lab.Status.BacktestID}
	}
}

// Advance moves every started lab one step: queued → running → completed.
// Completed labs get a deterministic synthetic result. Used by demo runs.
func (g *Gateway) Advance() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, lab := range g.labs {
		if !lab.Started {
			continue
		}
		switch lab.Status.State {
		case gateway.StateQueued:
			lab.Status = gateway.ExecutionStatus{State: gateway.StateRunning, Progress: 50, BacktestID: "bt-" + lab.ID}
		case gateway.StateRunning:
			lab.Status.State = gateway.StateCompleted
			lab.Status.Progress = 100
			g.results[lab.Status.BacktestID] = SyntheticResult(lab.ID, lab.Start, lab.End)
		}
	}
}

// SyntheticResult builds a result payload with one trade per day of the range.
// P&L follows a sine wave seeded by the lab id so different labs diverge.
func SyntheticResult(labID string, start, end time.Time) []byte {
	seed := 0
	for _, r := range labID {
		seed += int(r)
	}

	type trade struct {
		ID        string  `json:"Id"`
		OpenTime  int64   `json:"OpenTime"`
		CloseTime int64   `json:"CloseTime"`
		Side      string  `json:"Side"`
		PnL       float64 `json:"PnL"`
		Fees      float64 `json:"Fees"`
	}

	var (
		trades []trade
		profit float64
	)
	i := 0
	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		pnl := math.Round((math.Sin(float64(i+seed))*40+5)*100) / 100
		trades = append(trades, trade{
			ID:        fmt.Sprintf("%s-t%d", labID, i),
			OpenTime:  day.Unix(),
			CloseTime: day.Add(12 * time.Hour).Unix(),
			Side:      "long",
			PnL:       pnl,
			Fees:      0.5,
		})
		profit += pnl
		i++
	}

	const balance = 10000.0
	payload := map[string]any{
		"LabId":      labID,
		"BacktestId": "bt-" + labID,
		"Summary": map[string]any{
			"ROI":             profit / balance * 100,
			"RealizedProfit":  profit,
			"StartingBalance": balance,
			"FeeCosts":        float64(len(trades)) * 0.5,
			"TradeCount":      len(trades),
		},
		"Trades": trades,
	}
	blob, _ := json.Marshal(payload)
	return blob
}

// Compile-time interface check.
var _ gateway.Gateway = (*Gateway)(nil)
