package domain

import (
	"encoding/json"
	"time"
)

// BacktestResult is a completed backtest as parsed at the gateway boundary.
type BacktestResult struct {
	LabID      string
	BacktestID string
	Summary    Summary
	Trades     []Trade
	Positions  []Position
}

// Summary contains the headline figures reported by the remote platform.
type Summary struct {
	ROI             float64 // percent
	RealizedProfit  float64
	StartingBalance float64
	FeeCosts        float64
	TradeCount      int

	// Raw keeps the payload as received, unknown fields included.
	Raw json.RawMessage
}

// Trade is one closed round trip.
type Trade struct {
	ID         string
	OpenTime   time.Time
	CloseTime  time.Time
	Side       string // "long" | "short"
	EntryPrice float64
	ExitPrice  float64
	PnL        float64 // realized, after fees
	Fees       float64
}

// Won reports whether the trade closed with a profit.
func (t Trade) Won() bool {
	return t.PnL > 0
}

// Lost reports whether the trade closed with a loss.
func (t Trade) Lost() bool {
	return t.PnL < 0
}

// Position is a position snapshot reported alongside trades.
type Position struct {
	ID        string
	Side      string
	Amount    float64
	OpenTime  time.Time
	CloseTime *time.Time
	PnL       float64
}
