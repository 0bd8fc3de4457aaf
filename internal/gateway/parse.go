package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"backtest-lab/internal/domain"
)

// rawResult is the tolerated shape of a backtest result payload.
// Unknown fields are ignored; Summary is also kept verbatim.
type rawResult struct {
	LabID      string          `json:"LabId"`
	BacktestID string          `json:"BacktestId"`
	Summary    json.RawMessage `json:"Summary"`
	Trades     []rawTrade      `json:"Trades"`
	Positions  []rawPosition   `json:"Positions"`
}

type rawSummary struct {
	ROI             flexFloat `json:"ROI"`
	RealizedProfit  flexFloat `json:"RealizedProfit"`
	StartingBalance flexFloat `json:"StartingBalance"`
	FeeCosts        flexFloat `json:"FeeCosts"`
	TradeCount      flexFloat `json:"TradeCount"`
}

type rawTrade struct {
	ID         string    `json:"Id"`
	OpenTime   flexTime  `json:"OpenTime"`
	CloseTime  flexTime  `json:"CloseTime"`
	Side       string    `json:"Side"`
	EntryPrice flexFloat `json:"EntryPrice"`
	ExitPrice  flexFloat `json:"ExitPrice"`
	PnL        flexFloat `json:"PnL"`
	Fees       flexFloat `json:"Fees"`
}

type rawPosition struct {
	ID        string    `json:"Id"`
	Side      string    `json:"Side"`
	Amount    flexFloat `json:"Amount"`
	OpenTime  flexTime  `json:"OpenTime"`
	CloseTime flexTime  `json:"CloseTime"`
	PnL       flexFloat `json:"PnL"`
}

// ParseResult decodes a raw result payload into a BacktestResult.
// Missing sections yield zero values rather than errors.
func ParseResult(blob []byte) (*domain.BacktestResult, error) {
	if len(bytes.TrimSpace(blob)) == 0 {
		return nil, fmt.Errorf("parse result: empty payload")
	}

	var raw rawResult
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}

	res := &domain.BacktestResult{
		LabID:      raw.LabID,
		BacktestID: raw.BacktestID,
	}

	if len(raw.Summary) > 0 && string(raw.Summary) != "null" {
		var s rawSummary
		if err := json.Unmarshal(raw.Summary, &s); err != nil {
			return nil, fmt.Errorf("parse summary: %w", err)
		}
		res.Summary = domain.Summary{
			ROI:             float64(s.ROI),
			RealizedProfit:  float64(s.RealizedProfit),
			StartingBalance: float64(s.StartingBalance),
			FeeCosts:        float64(s.FeeCosts),
			TradeCount:      int(s.TradeCount),
			Raw:             append(json.RawMessage(nil), raw.Summary...),
		}
	}

	res.Trades = make([]domain.Trade, 0, len(raw.Trades))
	for i, t := range raw.Trades {
		id := t.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		res.Trades = append(res.Trades, domain.Trade{
			ID:         id,
			OpenTime:   time.Time(t.OpenTime),
			CloseTime:  time.Time(t.CloseTime),
			Side:       strings.ToLower(t.Side),
			EntryPrice: float64(t.EntryPrice),
			ExitPrice:  float64(t.ExitPrice),
			PnL:        float64(t.PnL),
			Fees:       float64(t.Fees),
		})
	}

	for _, p := range raw.Positions {
		pos := domain.Position{
			ID:       p.ID,
			Side:     strings.ToLower(p.Side),
			Amount:   float64(p.Amount),
			OpenTime: time.Time(p.OpenTime),
			PnL:      float64(p.PnL),
		}
		if ct := time.Time(p.CloseTime); !ct.IsZero() {
			pos.CloseTime = &ct
		}
		res.Positions = append(res.Positions, pos)
	}

	if res.Summary.TradeCount == 0 {
		res.Summary.TradeCount = len(res.Trades)
	}
	return res, nil
}

// flexFloat accepts JSON numbers, numeric strings and null.
// NaN and infinities are rejected.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = flexFloat(v)
	return nil
}

// flexTime accepts unix seconds, unix milliseconds, RFC 3339 strings and null.
type flexTime time.Time

// Values above this are treated as milliseconds (year 33658 in seconds).
const unixMillisThreshold = 1e12

func (t *flexTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*t = flexTime(time.Time{})
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unq := strings.Trim(s, `"`)
		if ts, err := time.Parse(time.RFC3339Nano, unq); err == nil {
			*t = flexTime(ts.UTC())
			return nil
		}
		s = unq
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid time %s", b)
	}
	if n > unixMillisThreshold {
		*t = flexTime(time.UnixMilli(int64(n)).UTC())
		return nil
	}
	*t = flexTime(time.Unix(int64(n), 0).UTC())
	return nil
}
