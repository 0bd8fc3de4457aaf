// Package main provides the backtest-lab service:
// - Monitor (scheduled): reconciles pending and running jobs with the gateway
// - Housekeeping (scheduled): deletes old terminal jobs, finalizes WFO runs
// - HTTP read API, Prometheus metrics and the monitor websocket stream
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"backtest-lab/internal/api"
	"backtest-lab/internal/app"
	"backtest-lab/internal/scheduler"
)

func main() {
	var common app.CommonFlags
	common.Register(flag.CommandLine)
	addr := flag.String("addr", "", "HTTP listen address (default from config)")
	taskTimeout := flag.Duration("task-timeout", 5*time.Minute, "Upper bound for one scheduled task run")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := common.Open(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("startup failed")
	}
	defer a.Close()
	log := a.Log.WithField("component", "server")

	cfg := a.Config
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	var hub *api.Hub
	if cfg.API.EnableWS {
		hub = api.NewHub(a.Log)
	}

	sched, err := scheduler.New(scheduler.Options{
		Jobs:        a.Jobs,
		WFO:         a.WFO,
		Broadcaster: broadcaster(hub),
		Schedules: scheduler.Schedules{
			Monitor:    cfg.Monitor.Schedule,
			Cleanup:    cfg.Monitor.CleanupSchedule,
			WFORefresh: cfg.Monitor.WFORefreshSchedule,
		},
		CleanupOlderThanDays: cfg.Monitor.CleanupOlderThanDays,
		Timeout:              *taskTimeout,
		Logger:               a.Log,
	})
	if err != nil {
		log.WithError(err).Fatal("scheduler setup failed")
	}

	srv := api.NewServer(api.Options{
		Facade:  a.Reports,
		Hub:     hub,
		Logger:  a.Log,
		Release: cfg.API.GinRelease,
	})

	// Channel to signal completion
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Warn("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	sched.Start()
	log.WithFields(logrus.Fields{
		"addr":     cfg.API.Addr,
		"backend":  cfg.Storage.Backend,
		"cache":    cfg.Storage.CacheBackend,
		"stub":     cfg.Gateway.Stub,
		"schedule": cfg.Monitor.Schedule,
	}).Info("server started")

	if a.Stub != nil {
		go advanceStub(ctx, a)
	}

	runErr := srv.Run(ctx, cfg.API.Addr)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	sched.Stop(stopCtx)
	stopCancel()
	close(done)

	if runErr != nil {
		log.WithError(runErr).Fatal("server error")
	}
	log.Info("shutdown complete")
}

// broadcaster avoids handing the scheduler a typed nil hub.
func broadcaster(hub *api.Hub) scheduler.Broadcaster {
	if hub == nil {
		return nil
	}
	return hub
}

// advanceStub moves stub executions forward so demo runs complete on their own.
func advanceStub(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}
