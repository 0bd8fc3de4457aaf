package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"backtest-lab/internal/domain"
)

// DefaultBatchConcurrency bounds concurrent job creation in a batch.
const DefaultBatchConcurrency = 4

// BatchEntry is one market and range of a lab batch.
type BatchEntry struct {
	MarketTag string
	Start     time.Time
	End       time.Time
}

// BatchRequest runs one script and account against several markets or ranges.
type BatchRequest struct {
	ScriptID  string
	AccountID string
	Label     string
	Entries   []BatchEntry
}

// BatchResult is index-aligned with BatchRequest.Entries.
// Exactly one of Jobs[i] and Errors[i] is non-nil.
type BatchResult struct {
	Jobs   []*domain.BacktestJob
	Errors []error
}

// Created returns the successfully created jobs.
func (r *BatchResult) Created() []*domain.BacktestJob {
	var out []*domain.BacktestJob
	for _, j := range r.Jobs {
		if j != nil {
			out = append(out, j)
		}
	}
	return out
}

// Failed returns the number of entries that could not be created.
func (r *BatchResult) Failed() int {
	n := 0
	for _, err := range r.Errors {
		if err != nil {
			n++
		}
	}
	return n
}

// CreateLabBatch creates one lab-batch job per entry, concurrently.
// Entry failures are reported per entry; successful jobs stay persisted.
func (m *Manager) CreateLabBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Entries) == 0 {
		return nil, domain.NewValidationError("entries", "batch must contain at least one entry")
	}
	if strings.TrimSpace(req.ScriptID) == "" {
		return nil, domain.NewValidationError("script_id", "must not be empty")
	}
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, domain.NewValidationError("account_id", "must not be empty")
	}

	res := &BatchResult{
		Jobs:   make([]*domain.BacktestJob, len(req.Entries)),
		Errors: make([]error, len(req.Entries)),
	}

	var g errgroup.Group
	g.SetLimit(DefaultBatchConcurrency)
	for i, e := range req.Entries {
		g.Go(func() error {
			label := req.Label
			if label != "" {
				label = fmt.Sprintf("%s/%s/%d", req.Label, e.MarketTag, i)
			}
			job, err := m.CreateIndividual(ctx, CreateRequest{
				ScriptID:  req.ScriptID,
				MarketTag: e.MarketTag,
				AccountID: req.AccountID,
				Start:     e.Start,
				End:       e.End,
				Label:     label,
				JobType:   domain.JobTypeLabBatch,
			})
			res.Jobs[i], res.Errors[i] = job, err
			return nil
		})
	}
	_ = g.Wait()

	if failed := res.Failed(); failed > 0 {
		m.log.WithField("failed", failed).WithField("total", len(req.Entries)).Warn("lab batch partially created")
	}
	return res, nil
}
