// Package main provides the report CLI: analyze cached results, save lab reports
// and export them as tables, Markdown, CSV or xlsx.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"backtest-lab/internal/app"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/reporting"
	"backtest-lab/internal/robustness"
)

const usage = `Usage: report <command> [flags]

Commands:
  analyze   Analyze one cached backtest result
  save      Analyze every completed backtest of a lab and save the report
  latest    Print the newest saved report of a lab
  list      List saved reports of a lab
  refresh   Replace a cached result with the contents of a file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "analyze":
		err = runAnalyze(args)
	case "save":
		err = runSave(args)
	case "latest":
		err = runLatest(args)
	case "list":
		err = runList(args)
	case "refresh":
		err = runRefresh(args)
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

func newFlagSet(name string, common *app.CommonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	common.StderrLogs = true
	common.Register(fs)
	return fs
}

func runAnalyze(args []string) error {
	var common app.CommonFlags
	fs := newFlagSet("analyze", &common)
	labID := fs.String("lab", "", "Lab ID (required)")
	backtestID := fs.String("backtest", "", "Backtest ID (required)")
	asJSON := fs.Bool("json", false, "Print full metrics as JSON")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.Reports.GetCachedAnalysis(ctx, *labID, *backtestID)
	if err != nil {
		return err
	}
	if !*asJSON {
		fmt.Printf("%s/%s %s\n", m.LabID, m.BacktestID, robustness.Describe(m))
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func runSave(args []string) error {
	var common app.CommonFlags
	fs := newFlagSet("save", &common)
	labID := fs.String("lab", "", "Lab ID (required)")
	outputDir := fs.String("output-dir", "", "Also write REPORT.md, analyses.csv and report.xlsx here (default from config)")
	noFiles := fs.Bool("no-files", false, "Skip writing report files")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, entry, err := a.Reports.SaveLabReport(ctx, *labID)
	if err != nil {
		return err
	}
	reporting.PrintLabReport(os.Stdout, report)
	fmt.Fprintf(os.Stderr, "Saved report %s\n", entry.Key)

	if *noFiles {
		return nil
	}
	dir := *outputDir
	if dir == "" {
		dir = filepath.Join(a.Config.API.OutputDir, *labID)
	}
	return writeFiles(report, dir)
}

func runLatest(args []string) error {
	var common app.CommonFlags
	fs := newFlagSet("latest", &common)
	labID := fs.String("lab", "", "Lab ID (required)")
	format := fs.String("format", "table", "Output format: table, markdown, csv, json")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Reports.GetLatestReport(ctx, *labID)
	if err != nil {
		return err
	}
	switch *format {
	case "table":
		reporting.PrintLabReport(os.Stdout, report)
	case "markdown":
		fmt.Print(reporting.RenderMarkdown(report))
	case "csv":
		fmt.Print(reporting.RenderCSV(reporting.AnalysisRows(report)))
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

func runList(args []string) error {
	var common app.CommonFlags
	fs := newFlagSet("list", &common)
	labID := fs.String("lab", "", "Lab ID (required)")
	fs.Parse(args)

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.Reports.ListSavedReports(ctx, *labID)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%s  %s  %d bytes\n", info.GeneratedAt.Format("2006-01-02T15:04:05.000Z"), info.Key, info.SizeBytes)
	}
	return nil
}

func runRefresh(args []string) error {
	var common app.CommonFlags
	fs := newFlagSet("refresh", &common)
	labID := fs.String("lab", "", "Lab ID (required)")
	backtestID := fs.String("backtest", "", "Backtest ID (required)")
	file := fs.String("file", "", "Path to the raw result JSON (required)")
	fs.Parse(args)

	blob, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read result file: %w", err)
	}

	ctx, cancel := app.SignalContext()
	defer cancel()
	a, err := common.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Reports.RefreshResult(ctx, *labID, *backtestID, blob); err != nil {
		return err
	}
	fmt.Printf("Refreshed cached result %s/%s\n", *labID, *backtestID)
	return nil
}

func writeFiles(report *domain.LabReport, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	mdPath := filepath.Join(dir, "REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("write %s: %w", mdPath, err)
	}
	csvPath := filepath.Join(dir, "analyses.csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(reporting.AnalysisRows(report))), 0644); err != nil {
		return fmt.Errorf("write %s: %w", csvPath, err)
	}
	xlsxPath := filepath.Join(dir, "report.xlsx")
	if err := reporting.WriteLabReportXLSX(report, xlsxPath); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Generated:\n  - %s\n  - %s\n  - %s\n", mdPath, csvPath, xlsxPath)
	return nil
}
