package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/gateway/stub"
)

const market = "BINANCE_BTC_USDT_"

var fixedNow = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

func newTestDiscoverer(gw *stub.Gateway, cfg Config) *Discoverer {
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return New(Options{
		Gateway: gw,
		Config:  cfg,
		Now:     func() time.Time { return fixedNow },
	})
}

func TestDiscover_FindsCutoffWithinBudget(t *testing.T) {
	today := fixedNow.Truncate(day)

	// Every day of the search range plus intra-day cutoffs.
	var cutoffs []time.Time
	for d := 1; d <= DefaultLookbackDays-1; d += 7 {
		cutoffs = append(cutoffs, today.AddDate(0, 0, -d))
	}
	cutoffs = append(cutoffs,
		today.AddDate(0, 0, -1),
		today.AddDate(0, 0, -DefaultLookbackDays+1),
		today.AddDate(0, 0, -200).Add(13*time.Hour),
	)

	for _, c := range cutoffs {
		gw := stub.New()
		gw.SetHistoryCutoff(market, c)
		d := newTestDiscoverer(gw, DefaultConfig())

		res, err := d.Discover(context.Background(), market)
		require.NoError(t, err, "cutoff %s", c)

		diff := res.Cutoff.Sub(c)
		if diff < 0 || diff > day {
			t.Errorf("cutoff %s: discovered %s, want within one day", c, res.Cutoff)
		}
		if res.Probes > DefaultMaxProbes {
			t.Errorf("cutoff %s: %d probes exceeds budget", c, res.Probes)
		}
		assert.Equal(t, res.Probes, gw.Probes(market))
	}
}

func TestDiscover_DayAlignedCutoffIsExact(t *testing.T) {
	gw := stub.New()
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	gw.SetHistoryCutoff(market, want)

	res, err := newTestDiscoverer(gw, DefaultConfig()).Discover(context.Background(), market)
	require.NoError(t, err)
	assert.True(t, want.Equal(res.Cutoff), "got %s", res.Cutoff)
}

func TestDiscover_NoHistory(t *testing.T) {
	gw := stub.New()
	gw.SetHistoryCutoff(market, fixedNow.Add(48*time.Hour))

	_, err := newTestDiscoverer(gw, DefaultConfig()).Discover(context.Background(), market)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoHistory)
	assert.True(t, IsNoHistory(err))

	var de *domain.DiscoveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, market, de.MarketTag)
	assert.Equal(t, 1, de.Probes)
}

func TestDiscover_ExhaustedBudget(t *testing.T) {
	gw := stub.New()
	gw.SetHistoryCutoff(market, fixedNow.AddDate(0, 0, -300))

	cfg := DefaultConfig()
	cfg.MaxProbes = 4
	_, err := newTestDiscoverer(gw, cfg).Discover(context.Background(), market)

	assert.ErrorIs(t, err, domain.ErrDiscoveryExhausted)
	assert.Equal(t, 4, gw.Probes(market))
}

func TestDiscover_RetriesTransientFailures(t *testing.T) {
	gw := stub.New()
	gw.SetHistoryCutoff(market, fixedNow.AddDate(0, 0, -100))
	gw.FailProbes(2, errors.New("connection reset"))

	res, err := newTestDiscoverer(gw, DefaultConfig()).Discover(context.Background(), market)
	require.NoError(t, err)
	assert.Equal(t, res.Probes+2, gw.Probes(market), "failed attempts are retried")
}

func TestDiscover_RetriesExhaustedReturnsGatewayError(t *testing.T) {
	gw := stub.New()
	gw.SetHistoryCutoff(market, fixedNow.AddDate(0, 0, -100))
	gw.FailProbes(100, errors.New("service unavailable"))

	cfg := DefaultConfig()
	cfg.ProbeRetries = 2
	_, err := newTestDiscoverer(gw, cfg).Discover(context.Background(), market)
	require.Error(t, err)

	assert.True(t, domain.IsGateway(err))
	var de *domain.DiscoveryError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, 3, gw.Probes(market))
}

func TestDiscover_ProbeTimeout(t *testing.T) {
	gw := stub.New()
	gw.SetHistoryCutoff(market, fixedNow.AddDate(0, 0, -100))
	gw.SetProbeDelay(time.Second)

	cfg := DefaultConfig()
	cfg.ProbeRetries = 1
	cfg.ProbeTimeout = 10 * time.Millisecond

	start := time.Now()
	_, err := newTestDiscoverer(gw, cfg).Discover(context.Background(), market)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDiscover_CachesPerMarket(t *testing.T) {
	gw := stub.New()
	gw.SetHistoryCutoff(market, fixedNow.AddDate(0, 0, -50))

	cfg := DefaultConfig()
	cfg.CacheTTL = time.Hour
	d := newTestDiscoverer(gw, cfg)

	first, err := d.Discover(context.Background(), market)
	require.NoError(t, err)
	probes := gw.Probes(market)

	second, err := d.Discover(context.Background(), market)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, first.Cutoff.Equal(second.Cutoff))
	assert.Equal(t, probes, gw.Probes(market), "cached lookup must not probe")

	d.Invalidate(market)
	_, err = d.Discover(context.Background(), market)
	require.NoError(t, err)
	assert.Greater(t, gw.Probes(market), probes)
}

func TestDiscover_EmptyMarket(t *testing.T) {
	_, err := newTestDiscoverer(stub.New(), DefaultConfig()).Discover(context.Background(), " ")
	assert.True(t, domain.IsValidation(err))
}
