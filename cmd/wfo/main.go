// Package main provides the walk-forward CLI: run, refresh and show.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"backtest-lab/internal/app"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/reporting"
	"backtest-lab/internal/wfo"
)

const usage = `Usage: wfo <command> [flags]

Commands:
  run       Plan periods and create the slice backtests of a new WFO job
  refresh   Finalize one WFO job (-id) or every running one
  show      Print a WFO job and its stability report
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runWFO(args)
	case "refresh":
		err = runRefresh(args)
	case "show":
		err = runShow(args)
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

func runWFO(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var common app.CommonFlags
	common.StderrLogs = true
	common.Register(fs)

	label := fs.String("label", "", "WFO label")
	scriptID := fs.String("script", "", "Script ID (required)")
	market := fs.String("market", "", "Market tag (required)")
	accountID := fs.String("account", "", "Account ID (required)")
	start := fs.String("start", "", "Total range start, YYYY-MM-DD (required)")
	end := fs.String("end", "", "Total range end, YYYY-MM-DD (required)")
	trainDays := fs.Int("train-days", 0, "Train window length in days (required)")
	testDays := fs.Int("test-days", 0, "Test window length in days (required)")
	stepDays := fs.Int("step-days", 0, "Step in days (default: test window)")
	mode := fs.String("mode", "", "Window mode: rolling, fixed, expanding (default from config)")
	sliceMode := fs.String("slice-mode", "", "Slice mode: test-only, train-and-test (default from config)")
	wait := fs.Bool("wait", false, "Poll slices until they settle, then finalize")
	interval := fs.Duration("interval", 5*time.Second, "Poll interval for -wait")
	outPath := fs.String("xlsx", "", "Write the finalized WFO workbook to this path")
	fs.Parse(args)

	from, err := parseDate(*start)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	to, err := parseDate(*end)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if *mode == "" {
		*mode = a.Config.WFO.DefaultMode
	}
	if *sliceMode == "" {
		*sliceMode = a.Config.WFO.DefaultSliceMode
	}

	job, err := a.WFO.Run(ctx, wfo.Config{
		Label:      *label,
		ScriptID:   *scriptID,
		MarketTag:  *market,
		AccountID:  *accountID,
		TotalStart: from,
		TotalEnd:   to,
		Train:      days(*trainDays),
		Test:       days(*testDays),
		Step:       days(*stepDays),
		Mode:       domain.WindowMode(*mode),
		SliceMode:  domain.SliceMode(*sliceMode),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "WFO %s created with %d periods\n", job.WFOID, len(job.TimePeriods))

	if *wait {
		if _, err := a.WaitForJobs(ctx, *interval); err != nil {
			return err
		}
		if job, err = a.WFO.Refresh(ctx, job.WFOID); err != nil {
			return err
		}
	}

	reporting.PrintWFO(os.Stdout, job)
	if *outPath != "" && job.Results != nil {
		if err := reporting.WriteWFOXLSX(job, *outPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", *outPath)
	}
	return nil
}

func runRefresh(args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	var common app.CommonFlags
	common.StderrLogs = true
	common.Register(fs)
	id := fs.String("id", "", "WFO ID (default: every running WFO job)")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if *id == "" {
		n, err := a.WFO.RefreshAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Finalized %d WFO jobs\n", n)
		return nil
	}

	job, err := a.WFO.Refresh(ctx, *id)
	if err != nil {
		return err
	}
	reporting.PrintWFO(os.Stdout, job)
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	var common app.CommonFlags
	common.StderrLogs = true
	common.Register(fs)
	id := fs.String("id", "", "WFO ID (required)")
	format := fs.String("format", "table", "Output format: table, markdown, json")
	outPath := fs.String("xlsx", "", "Also write an xlsx workbook to this path")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Reports.GetWFO(ctx, *id)
	if err != nil {
		return err
	}
	if err := render(job, *format); err != nil {
		return err
	}
	if *outPath != "" {
		return reporting.WriteWFOXLSX(job, *outPath)
	}
	return nil
}

func render(job *domain.WFOJob, format string) error {
	switch format {
	case "table":
		reporting.PrintWFO(os.Stdout, job)
	case "markdown":
		fmt.Print(reporting.RenderWFOMarkdown(job))
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}
