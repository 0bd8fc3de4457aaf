// Package main provides the backtest job CLI: create, discover, batch, monitor,
// status, abandon and cleanup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"backtest-lab/internal/app"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/jobs"
	"backtest-lab/internal/reporting"
)

const usage = `Usage: backtest <command> [flags]

Commands:
  create     Create one backtest over an explicit date range
  discover   Create one backtest starting the day after the discovered history cutoff
  batch      Create one backtest per market (comma-separated) over the same range
  monitor    Run monitor passes (once, or until all jobs settle with -wait)
  status     Show a job
  abandon    Mark a pending or running job failed
  cleanup    Delete terminal jobs older than N days
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "create":
		err = runCreate(args)
	case "discover":
		err = runDiscover(args)
	case "batch":
		err = runBatch(args)
	case "monitor":
		err = runMonitor(args)
	case "status":
		err = runStatus(args)
	case "abandon":
		err = runAbandon(args)
	case "cleanup":
		err = runCleanup(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// jobFlags are shared by the job-creating commands.
type jobFlags struct {
	common    app.CommonFlags
	scriptID  string
	accountID string
	label     string
	wait      bool
	interval  time.Duration
	asJSON    bool
}

func (f *jobFlags) register(fs *flag.FlagSet) {
	f.common.StderrLogs = true
	f.common.Register(fs)
	fs.StringVar(&f.scriptID, "script", "", "Script ID (required)")
	fs.StringVar(&f.accountID, "account", "", "Account ID (required)")
	fs.StringVar(&f.label, "label", "", "Optional label")
	fs.BoolVar(&f.wait, "wait", false, "Poll until the created jobs settle")
	fs.DurationVar(&f.interval, "interval", 5*time.Second, "Poll interval for -wait")
	fs.BoolVar(&f.asJSON, "json", false, "Output as JSON")
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var f jobFlags
	f.register(fs)
	market := fs.String("market", "", "Market tag (required)")
	start := fs.String("start", "", "Start date, YYYY-MM-DD or RFC 3339 (required)")
	end := fs.String("end", "", "End date, YYYY-MM-DD or RFC 3339 (required)")
	fs.Parse(args)

	from, err := parseTime(*start)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	to, err := parseTime(*end)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := f.common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Jobs.CreateIndividual(ctx, jobs.CreateRequest{
		ScriptID:  f.scriptID,
		MarketTag: *market,
		AccountID: f.accountID,
		Start:     from,
		End:       to,
		Label:     f.label,
	})
	if err != nil {
		return err
	}
	return f.finish(ctx, a, job)
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	var f jobFlags
	f.register(fs)
	market := fs.String("market", "", "Market tag (required)")
	cutoff := fs.String("stub-cutoff", "", "History cutoff for the stub gateway, YYYY-MM-DD")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := f.common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Stub != nil && *cutoff != "" {
		day, err := parseTime(*cutoff)
		if err != nil {
			return fmt.Errorf("-stub-cutoff: %w", err)
		}
		a.Stub.SetHistoryCutoff(*market, day)
	}

	job, err := a.Jobs.CreateIndividualWithDiscoveredCutoff(ctx, f.scriptID, *market, f.accountID, f.label)
	if err != nil {
		return err
	}
	return f.finish(ctx, a, job)
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	var f jobFlags
	f.register(fs)
	markets := fs.String("markets", "", "Comma-separated market tags (required)")
	start := fs.String("start", "", "Start date (required)")
	end := fs.String("end", "", "End date (required)")
	fs.Parse(args)

	from, err := parseTime(*start)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	to, err := parseTime(*end)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}

	req := jobs.BatchRequest{ScriptID: f.scriptID, AccountID: f.accountID, Label: f.label}
	for _, m := range strings.Split(*markets, ",") {
		if m = strings.TrimSpace(m); m != "" {
			req.Entries = append(req.Entries, jobs.BatchEntry{MarketTag: m, Start: from, End: to})
		}
	}

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := f.common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Jobs.CreateLabBatch(ctx, req)
	if err != nil {
		return err
	}
	for i, e := range res.Errors {
		if e != nil {
			fmt.Fprintf(os.Stderr, "entry %d (%s): %v\n", i, req.Entries[i].MarketTag, e)
		}
	}
	fmt.Fprintf(os.Stderr, "created %d of %d jobs\n", len(res.Created()), len(req.Entries))

	if f.wait {
		if err := waitAndSummarize(ctx, a, f.interval); err != nil {
			return err
		}
	}
	for _, job := range res.Created() {
		if err := printJob(ctx, a, job.JobID, f.asJSON); err != nil {
			return err
		}
	}
	return nil
}

func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	var common app.CommonFlags
	common.StderrLogs = true
	common.Register(fs)
	wait := fs.Bool("wait", false, "Repeat passes until no job is pending")
	interval := fs.Duration("interval", 5*time.Second, "Poll interval for -wait")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if *wait {
		return waitAndSummarize(ctx, a, *interval)
	}
	summary, err := a.Jobs.Monitor(ctx)
	if err != nil {
		return err
	}
	reporting.PrintMonitorSummary(os.Stdout, summary)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var common app.CommonFlags
	common.StderrLogs = true
	common.Register(fs)
	id := fs.String("id", "", "Job ID (required)")
	asJSON := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return printJob(ctx, a, *id, *asJSON)
}

func runAbandon(args []string) error {
	fs := flag.NewFlagSet("abandon", flag.ExitOnError)
	var common app.CommonFlags
	common.StderrLogs = true
	common.Register(fs)
	id := fs.String("id", "", "Job ID (required)")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Jobs.Abandon(ctx, *id)
	if err != nil {
		return err
	}
	reporting.PrintJob(os.Stdout, job)
	return nil
}

func runCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	var common app.CommonFlags
	common.StderrLogs = true
	common.Register(fs)
	days := fs.Int("days", -1, "Delete terminal jobs older than this many days (default from config)")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if *days < 0 {
		*days = a.Config.Monitor.CleanupOlderThanDays
	}
	n, err := a.Jobs.Cleanup(ctx, *days)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d jobs older than %d days\n", n, *days)
	return nil
}

func (f *jobFlags) finish(ctx context.Context, a *app.App, job *domain.BacktestJob) error {
	if f.wait {
		if err := waitAndSummarize(ctx, a, f.interval); err != nil {
			return err
		}
	}
	return printJob(ctx, a, job.JobID, f.asJSON)
}

func waitAndSummarize(ctx context.Context, a *app.App, interval time.Duration) error {
	summary, err := a.WaitForJobs(ctx, interval)
	if summary != nil {
		reporting.PrintMonitorSummary(os.Stderr, summary)
	}
	return err
}

func printJob(ctx context.Context, a *app.App, id string, asJSON bool) error {
	job, err := a.Reports.GetJobStatus(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}
	reporting.PrintJob(os.Stdout, job)
	return nil
}

// parseTime accepts YYYY-MM-DD (UTC midnight) or RFC 3339.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}
