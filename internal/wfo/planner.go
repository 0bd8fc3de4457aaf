// Package wfo runs walk-forward optimization over a historical span.
package wfo

import (
	"fmt"
	"time"

	"backtest-lab/internal/domain"
)

// maxPeriods caps the number of generated periods; more is rejected as a step that is too small.
const maxPeriods = 10000

// Plan partitions [totalStart, totalEnd) into train/test periods.
// A zero step defaults to the test duration. Periods whose test window
// would end after totalEnd are discarded, never clamped.
func Plan(totalStart, totalEnd time.Time, train, test time.Duration, mode domain.WindowMode, step time.Duration) ([]domain.TimePeriod, error) {
	if !totalEnd.After(totalStart) {
		return nil, domain.NewValidationError("time_range", "total end must be after total start")
	}
	if train <= 0 {
		return nil, domain.NewValidationError("train_duration", "must be positive")
	}
	if test <= 0 {
		return nil, domain.NewValidationError("test_duration", "must be positive")
	}
	if step < 0 {
		return nil, domain.NewValidationError("step_duration", "must not be negative")
	}
	if step == 0 {
		step = test
	}
	if !mode.Valid() {
		return nil, domain.NewValidationError("mode", "unknown window mode "+string(mode))
	}

	var periods []domain.TimePeriod
	for i := 0; ; i++ {
		p := period(totalStart, train, test, step, mode, i)
		if p.TestEnd.After(totalEnd) {
			break
		}
		if i == maxPeriods {
			return nil, domain.NewValidationError("step_duration",
				fmt.Sprintf("step too small: more than %d periods", maxPeriods))
		}
		periods = append(periods, p)
	}

	if len(periods) == 0 {
		return nil, domain.NewValidationError("durations", "no complete train/test period fits in the range")
	}
	return periods, nil
}

func period(start time.Time, train, test, step time.Duration, mode domain.WindowMode, i int) domain.TimePeriod {
	offset := time.Duration(i) * step

	var p domain.TimePeriod
	switch mode {
	case domain.WindowFixed:
		p.TrainStart = start
		p.TrainEnd = start.Add(train)
		p.TestStart = p.TrainEnd.Add(offset)
	case domain.WindowExpanding:
		p.TrainStart = start
		p.TrainEnd = start.Add(train + offset)
		p.TestStart = p.TrainEnd
	default: // rolling
		p.TrainStart = start.Add(offset)
		p.TrainEnd = p.TrainStart.Add(train)
		p.TestStart = p.TrainEnd
	}
	p.TestEnd = p.TestStart.Add(test)
	return p
}
