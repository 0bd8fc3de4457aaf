package wfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hours int) time.Time {
	return epoch.Add(time.Duration(hours) * time.Hour)
}

func TestPlan_Rolling(t *testing.T) {
	periods, err := Plan(at(0), at(100), 30*time.Hour, 10*time.Hour, domain.WindowRolling, 10*time.Hour)
	require.NoError(t, err)
	require.Len(t, periods, 7)

	for i, p := range periods {
		assert.Equal(t, at(i*10), p.TrainStart, "period %d", i)
		assert.Equal(t, at(i*10+30), p.TrainEnd, "period %d", i)
		assert.Equal(t, p.TrainEnd, p.TestStart, "period %d", i)
		assert.Equal(t, at(i*10+40), p.TestEnd, "period %d", i)
		assert.False(t, p.TestEnd.After(at(100)))
	}
	assert.Equal(t, at(100), periods[6].TestEnd)
}

func TestPlan_RollingDiscardsPartialPeriod(t *testing.T) {
	periods, err := Plan(at(0), at(95), 30*time.Hour, 10*time.Hour, domain.WindowRolling, 10*time.Hour)
	require.NoError(t, err)
	require.Len(t, periods, 6)
	assert.Equal(t, at(90), periods[5].TestEnd, "last period is kept whole, never clamped")
}

func TestPlan_Fixed(t *testing.T) {
	periods, err := Plan(at(0), at(100), 30*time.Hour, 10*time.Hour, domain.WindowFixed, 10*time.Hour)
	require.NoError(t, err)
	require.Len(t, periods, 7)

	for i, p := range periods {
		assert.Equal(t, at(0), p.TrainStart)
		assert.Equal(t, at(30), p.TrainEnd)
		assert.Equal(t, at(30+i*10), p.TestStart)
		assert.Equal(t, at(40+i*10), p.TestEnd)
	}
}

func TestPlan_Expanding(t *testing.T) {
	periods, err := Plan(at(0), at(100), 30*time.Hour, 10*time.Hour, domain.WindowExpanding, 10*time.Hour)
	require.NoError(t, err)
	require.Len(t, periods, 7)

	for i, p := range periods {
		assert.Equal(t, at(0), p.TrainStart)
		assert.Equal(t, p.TrainEnd, p.TestStart)
		assert.Equal(t, 10*time.Hour, p.TestEnd.Sub(p.TestStart))
		if i > 0 {
			assert.True(t, p.TrainEnd.After(periods[i-1].TrainEnd), "train end must strictly increase")
		}
	}
}

func TestPlan_StepDefaultsToTest(t *testing.T) {
	periods, err := Plan(at(0), at(100), 30*time.Hour, 20*time.Hour, domain.WindowRolling, 0)
	require.NoError(t, err)
	require.Len(t, periods, 4)
	assert.Equal(t, at(20), periods[1].TrainStart)
}

func TestPlan_Validation(t *testing.T) {
	cases := []struct {
		name        string
		start, end  time.Time
		train, test time.Duration
		mode        domain.WindowMode
		step        time.Duration
	}{
		{"inverted range", at(10), at(0), time.Hour, time.Hour, domain.WindowRolling, 0},
		{"zero train", at(0), at(100), 0, time.Hour, domain.WindowRolling, 0},
		{"zero test", at(0), at(100), time.Hour, 0, domain.WindowRolling, 0},
		{"negative step", at(0), at(100), time.Hour, time.Hour, domain.WindowRolling, -time.Hour},
		{"unknown mode", at(0), at(100), time.Hour, time.Hour, "sliding", 0},
		{"nothing fits", at(0), at(100), 95 * time.Hour, 10 * time.Hour, domain.WindowRolling, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Plan(c.start, c.end, c.train, c.test, c.mode, c.step)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
}

func TestPlan_StepTooSmall(t *testing.T) {
	_, err := Plan(at(0), at(24*30), time.Hour, time.Hour, domain.WindowRolling, time.Second)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "step too small")

	periods, err := Plan(at(0), at(maxPeriods+1), time.Hour, time.Hour, domain.WindowRolling, time.Hour)
	require.NoError(t, err)
	assert.Len(t, periods, maxPeriods, "exactly the cap is still allowed")
}
