// Package discovery finds the earliest day a market has history on the remote platform.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/gateway"
	"backtest-lab/internal/logger"
	"backtest-lab/internal/observability"
)

const day = 24 * time.Hour

// Default search parameters.
const (
	DefaultMaxProbes    = 12
	DefaultProbeRetries = 3
	DefaultProbeTimeout = 15 * time.Second
	DefaultRetryBackoff = 2 * time.Second
	DefaultLookbackDays = 730
)

// Discovery outcomes, used as metric labels.
const (
	outcomeFound     = "found"
	outcomeNoHistory = "no_history"
	outcomeExhausted = "exhausted"
	outcomeError     = "error"
)

// Config controls the cutoff search.
type Config struct {
	MaxProbes    int
	ProbeRetries int // retries per probe after the first attempt
	ProbeTimeout time.Duration
	RetryBackoff time.Duration
	LookbackDays int
	// CacheTTL keeps discovered cutoffs per market. Zero disables caching.
	CacheTTL time.Duration
}

// DefaultConfig returns the default search parameters.
func DefaultConfig() Config {
	return Config{
		MaxProbes:    DefaultMaxProbes,
		ProbeRetries: DefaultProbeRetries,
		ProbeTimeout: DefaultProbeTimeout,
		RetryBackoff: DefaultRetryBackoff,
		LookbackDays: DefaultLookbackDays,
	}
}

// Result is a discovered cutoff.
type Result struct {
	MarketTag string
	// Cutoff is the earliest UTC day confirmed to have data.
	Cutoff time.Time
	// Probes is the number of distinct days probed. Zero for cached results.
	Probes int
	Cached bool
}

type cachedCutoff struct {
	cutoff  time.Time
	expires time.Time
}

// Discoverer binary-searches the gateway for market history cutoffs.
type Discoverer struct {
	gw  gateway.Gateway
	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedCutoff
}

// Options for creating a Discoverer.
type Options struct {
	Gateway gateway.Gateway
	Config  Config
	Logger  logrus.FieldLogger
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Discoverer. Zero config fields take defaults.
func New(opts Options) *Discoverer {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	if cfg.ProbeRetries < 0 {
		cfg.ProbeRetries = 0
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.LookbackDays <= 1 {
		cfg.LookbackDays = def.LookbackDays
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Discoverer{
		gw:    opts.Gateway,
		cfg:   cfg,
		log:   log.WithField("component", "discovery"),
		now:   now,
		cache: make(map[string]cachedCutoff),
	}
}

// Discover returns the earliest day with history for marketTag.
// It never falls back to a default date: failures return a *domain.DiscoveryError
// wrapping domain.ErrNoHistory, domain.ErrDiscoveryExhausted or a *domain.GatewayError.
func (d *Discoverer) Discover(ctx context.Context, marketTag string) (*Result, error) {
	if strings.TrimSpace(marketTag) == "" {
		return nil, domain.NewValidationError("market_tag", "must not be empty")
	}

	if cutoff, ok := d.cached(marketTag); ok {
		observability.RecordDiscoveryCacheHit()
		return &Result{MarketTag: marketTag, Cutoff: cutoff, Cached: true}, nil
	}

	log := d.log.WithField("market", marketTag)
	today := d.now().UTC().Truncate(day)
	low := today.AddDate(0, 0, -d.cfg.LookbackDays)
	high := today.Add(-day)
	probes := 0

	fail := func(outcome string, err error) (*Result, error) {
		observability.RecordDiscovery(outcome, probes)
		log.WithError(err).WithField("probes", probes).Warn("cutoff discovery failed")
		return nil, &domain.DiscoveryError{MarketTag: marketTag, Probes: probes, Err: err}
	}

	probes++
	ok, err := d.probe(ctx, marketTag, high)
	if err != nil {
		return fail(outcomeError, err)
	}
	if !ok {
		return fail(outcomeNoHistory, domain.ErrNoHistory)
	}

	for high.Sub(low) > day {
		if probes >= d.cfg.MaxProbes {
			return fail(outcomeExhausted, domain.ErrDiscoveryExhausted)
		}
		days := int(high.Sub(low) / day)
		mid := low.AddDate(0, 0, days/2)

		probes++
		ok, err := d.probe(ctx, marketTag, mid)
		if err != nil {
			return fail(outcomeError, err)
		}
		if ok {
			high = mid
		} else {
			low = mid
		}
	}

	observability.RecordDiscovery(outcomeFound, probes)
	log.WithFields(logrus.Fields{"cutoff": high.Format("2006-01-02"), "probes": probes}).Info("cutoff discovered")

	d.store(marketTag, high)
	return &Result{MarketTag: marketTag, Cutoff: high, Probes: probes}, nil
}

// probe checks one day, retrying transient failures with a fixed backoff.
// Each attempt has its own timeout.
func (d *Discoverer) probe(ctx context.Context, marketTag string, at time.Time) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.ProbeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(d.cfg.RetryBackoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		ok, err := d.gw.ProbeHistoryAvailable(attemptCtx, marketTag, at)
		cancel()
		if err == nil {
			return ok, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		lastErr = err
		d.log.WithFields(logrus.Fields{
			"market":  marketTag,
			"day":     at.Format("2006-01-02"),
			"attempt": attempt + 1,
		}).WithError(err).Debug("history probe failed")
	}

	if !domain.IsGateway(lastErr) {
		lastErr = domain.NewGatewayError("probe_history", lastErr)
	}
	return false, fmt.Errorf("probe %s after %d attempts: %w", at.Format("2006-01-02"), d.cfg.ProbeRetries+1, lastErr)
}

func (d *Discoverer) cached(marketTag string) (time.Time, bool) {
	if d.cfg.CacheTTL <= 0 {
		return time.Time{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cache[marketTag]
	if !ok || !d.now().Before(c.expires) {
		return time.Time{}, false
	}
	return c.cutoff, true
}

func (d *Discoverer) store(marketTag string, cutoff time.Time) {
	if d.cfg.CacheTTL <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[marketTag] = cachedCutoff{cutoff: cutoff, expires: d.now().Add(d.cfg.CacheTTL)}
}

// Invalidate drops the cached cutoff for a market.
func (d *Discoverer) Invalidate(marketTag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, marketTag)
}

// IsNoHistory reports whether err means the market has no history at all.
func IsNoHistory(err error) bool {
	return errors.Is(err, domain.ErrNoHistory)
}
