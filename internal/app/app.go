// Package app assembles stores, gateway and engines from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"backtest-lab/internal/config"
	"backtest-lab/internal/discovery"
	"backtest-lab/internal/gateway"
	"backtest-lab/internal/gateway/stub"
	"backtest-lab/internal/jobs"
	"backtest-lab/internal/reporting"
	"backtest-lab/internal/robustness"
	"backtest-lab/internal/storage"
	chstore "backtest-lab/internal/storage/clickhouse"
	"backtest-lab/internal/storage/memory"
	"backtest-lab/internal/storage/migrations"
	pgstore "backtest-lab/internal/storage/postgres"
	redisstore "backtest-lab/internal/storage/redis"
	"backtest-lab/internal/wfo"
)

// Stores holds the persistence backends.
type Stores struct {
	Jobs    storage.JobStore
	WFOs    storage.WFOStore
	Cache   storage.ResultCache
	Reports storage.ReportStore
}

// App is the wired component graph.
type App struct {
	Config  *config.Config
	Log     *logrus.Logger
	Stores  Stores
	Gateway gateway.Gateway
	// Stub is set when running against the in-process gateway.
	Stub *stub.Gateway

	Discoverer *discovery.Discoverer
	Jobs       *jobs.Manager
	WFO        *wfo.Engine
	Reports    *reporting.Facade

	closers []func()
}

// New connects the configured backends and wires every engine.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.openGateway()

	analysis := robustness.Options{RiskBudget: cfg.Robustness.RiskBudget}

	a.Discoverer = discovery.New(discovery.Options{
		Gateway: a.Gateway,
		Config: discovery.Config{
			MaxProbes:    cfg.Discovery.MaxProbes,
			ProbeRetries: cfg.Discovery.ProbeRetries,
			ProbeTimeout: cfg.Discovery.ProbeTimeout,
			RetryBackoff: cfg.Discovery.RetryBackoff,
			LookbackDays: cfg.Discovery.LookbackDays,
			CacheTTL:     cfg.Discovery.CacheTTL,
		},
		Logger: log,
	})
	a.Jobs = jobs.NewManager(jobs.Options{
		Gateway:            a.Gateway,
		Store:              a.Stores.Jobs,
		Cache:              a.Stores.Cache,
		Discoverer:         a.Discoverer,
		Logger:             log,
		MonitorConcurrency: cfg.Monitor.Concurrency,
	})
	a.WFO = wfo.NewEngine(wfo.Options{
		Jobs:              a.Jobs,
		Store:             a.Stores.WFOs,
		JobStore:          a.Stores.Jobs,
		Cache:             a.Stores.Cache,
		Analysis:          analysis,
		DegradationMargin: cfg.WFO.DegradationMargin,
		Concurrency:       cfg.WFO.Concurrency,
		Logger:            log,
	})
	a.Reports = reporting.NewFacade(reporting.FacadeOptions{
		Jobs:     a.Stores.Jobs,
		WFOs:     a.Stores.WFOs,
		Cache:    a.Stores.Cache,
		Reports:  a.Stores.Reports,
		Analysis: analysis,
		Logger:   log,
	})
	return a, nil
}

func (a *App) openGateway() {
	gw := a.Config.Gateway
	if gw.Stub {
		a.Stub = stub.New()
		a.Gateway = a.Stub
		a.Log.Warn("using in-process stub gateway")
		return
	}
	a.Gateway = gateway.NewHTTPClient(gw.Endpoint,
		gateway.WithTimeout(gw.Timeout),
		gateway.WithMaxRetries(gw.MaxRetries),
		gateway.WithRetryDelay(gw.RetryDelay),
		gateway.WithMaxDelay(gw.MaxDelay),
		gateway.WithRateLimit(gw.RateLimit, gw.RateBurst),
	)
}

func (a *App) openStores(ctx context.Context) error {
	sc := a.Config.Storage

	var pool *pgstore.Pool
	switch sc.Backend {
	case "memory":
		a.Stores.Jobs = memory.NewJobStore()
		a.Stores.WFOs = memory.NewWFOStore()
		a.Stores.Reports = memory.NewReportStore()
	case "postgres":
		var err error
		pool, err = pgstore.NewPool(ctx, sc.PostgresDSN, pgstore.WithMaxConns(int32(sc.PostgresMaxConns)))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)

		var conn *chstore.Conn
		if sc.RunMigrations {
			if _, err := migrations.RunPostgres(ctx, pool, a.Log); err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}
			conn, err = migrations.RunClickhouse(ctx, sc.ClickhouseDSN, a.Log)
		} else {
			conn, err = chstore.NewConn(ctx, sc.ClickhouseDSN)
		}
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		a.closers = append(a.closers, func() { conn.Close() })

		a.Stores.Jobs = pgstore.NewJobStore(pool)
		a.Stores.WFOs = pgstore.NewWFOStore(pool)
		a.Stores.Reports = chstore.NewReportStore(conn)
	default:
		return fmt.Errorf("unknown storage backend %q", sc.Backend)
	}

	switch sc.CacheBackend {
	case "memory":
		a.Stores.Cache = memory.NewResultCache()
	case "postgres":
		if pool == nil {
			return fmt.Errorf("postgres cache requires postgres storage backend")
		}
		a.Stores.Cache = pgstore.NewResultCache(pool)
	case "redis":
		client, err := redisstore.NewClient(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { client.Close() })
		a.Stores.Cache = redisstore.NewResultCache(client, sc.CacheTTL)
	default:
		return fmt.Errorf("unknown cache backend %q", sc.CacheBackend)
	}

	a.Log.WithFields(logrus.Fields{
		"backend": sc.Backend,
		"cache":   sc.CacheBackend,
	}).Info("storage ready")
	return nil
}

// Tick advances the stub gateway one step. It is a no-op against a real gateway.
func (a *App) Tick() {
	if a.Stub != nil {
		a.Stub.Advance()
	}
}

// WaitForJobs runs monitor passes every interval until no job is pending or
// running, or ctx ends.
func (a *App) WaitForJobs(ctx context.Context, interval time.Duration) (*jobs.MonitorSummary, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.Tick()
		summary, err := a.Jobs.Monitor(ctx)
		if err != nil {
			return nil, err
		}
		if summary.StillPending == 0 && summary.Skipped == 0 {
			return summary, nil
		}
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases backend connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
