package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"backtest-lab/internal/domain"
)

type excelStyles struct {
	header  int
	text    int
	number  int
	percent int
	bad     int
}

// WriteLabReportXLSX writes a lab report workbook with Analyses and Skipped sheets.
func WriteLabReportXLSX(r *domain.LabReport, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const analysesSheet = "Analyses"
	const skippedSheet = "Skipped"
	if err := fx.SetSheetName(fx.GetSheetName(0), analysesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := fx.NewSheet(skippedSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	styles, err := newExcelStyles(fx)
	if err != nil {
		return err
	}

	headers := []string{"Backtest", "Risk", "Score", "ROI %", "Max DD", "Loss Streak", "Trades",
		"Win Rate", "Profit Factor", "Safe Leverage", "Position %", "Blowup Risk"}
	writeHeader(fx, analysesSheet, headers, styles.header)
	fx.SetColWidth(analysesSheet, "A", "A", 24)
	fx.SetColWidth(analysesSheet, "B", "L", 13)

	for i, row := range AnalysisRows(r) {
		n := i + 2
		values := []any{row.BacktestID, string(row.RiskLevel), row.Score, row.ROI, row.MaxDrawdownPct,
			row.LossStreak, row.Trades, row.WinRate, row.ProfitFactor, row.SafeLeverage, row.PositionPct, row.BlowupRisk}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, n)
			fx.SetCellValue(analysesSheet, cell, v)
			style := styles.number
			switch col {
			case 0, 1, 11:
				style = styles.text
			case 4, 7:
				style = styles.percent
			}
			if col == 1 && (row.RiskLevel == domain.RiskHigh || row.RiskLevel == domain.RiskCritical) {
				style = styles.bad
			}
			fx.SetCellStyle(analysesSheet, cell, cell, style)
		}
	}

	writeHeader(fx, skippedSheet, []string{"Job", "Backtest", "Reason"}, styles.header)
	fx.SetColWidth(skippedSheet, "A", "B", 24)
	fx.SetColWidth(skippedSheet, "C", "C", 60)
	for i, s := range r.Skipped {
		n := i + 2
		for col, v := range []any{s.JobID, s.BacktestID, s.Reason} {
			cell, _ := excelize.CoordinatesToCellName(col+1, n)
			fx.SetCellValue(skippedSheet, cell, v)
			fx.SetCellStyle(skippedSheet, cell, cell, styles.text)
		}
	}

	if err := fx.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

// WriteWFOXLSX writes a WFO workbook with Periods and Stability sheets.
func WriteWFOXLSX(w *domain.WFOJob, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const periodsSheet = "Periods"
	const stabilitySheet = "Stability"
	if err := fx.SetSheetName(fx.GetSheetName(0), periodsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := fx.NewSheet(stabilitySheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	styles, err := newExcelStyles(fx)
	if err != nil {
		return err
	}

	writeHeader(fx, periodsSheet, []string{"Period", "Test Start", "Test End", "ROI %", "Train ROI %", "Sharpe", "Max DD", "Failure"}, styles.header)
	fx.SetColWidth(periodsSheet, "A", "A", 8)
	fx.SetColWidth(periodsSheet, "B", "G", 14)
	fx.SetColWidth(periodsSheet, "H", "H", 48)

	for i, p := range PeriodRows(w) {
		n := i + 2
		values := []any{p.PeriodIndex, p.TestStart.Format("2006-01-02"), p.TestEnd.Format("2006-01-02")}
		if p.Failed() {
			values = append(values, "", "", "", "", p.Reason)
		} else {
			var train any = ""
			if p.TrainROI != nil {
				train = *p.TrainROI
			}
			values = append(values, p.ROI, train, p.Sharpe, p.MaxDrawdown, "")
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, n)
			fx.SetCellValue(periodsSheet, cell, v)
			style := styles.number
			switch {
			case p.Failed():
				style = styles.bad
			case col == 6:
				style = styles.percent
			case col == 1 || col == 2 || col == 7:
				style = styles.text
			}
			fx.SetCellStyle(periodsSheet, cell, cell, style)
		}
	}

	writeHeader(fx, stabilitySheet, []string{"Metric", "Value"}, styles.header)
	fx.SetColWidth(stabilitySheet, "A", "A", 24)
	fx.SetColWidth(stabilitySheet, "B", "B", 16)
	summary := [][]any{
		{"WFO", w.WFOID},
		{"Label", w.Label},
		{"Status", string(w.Status)},
		{"Mode", string(w.Mode)},
		{"Slice Mode", string(w.SliceMode)},
	}
	if r := w.Results; r != nil {
		summary = append(summary,
			[]any{"Mean ROI %", r.MeanROI},
			[]any{"StdDev ROI %", r.StdDevROI},
			[]any{"Consistency", r.ConsistencyRatio},
			[]any{"Mean Sharpe", r.MeanSharpe},
			[]any{"Worst Drawdown", r.WorstDrawdown},
			[]any{"Best Period", r.BestPeriod},
			[]any{"Worst Period", r.WorstPeriod},
			[]any{"Failed Periods", len(r.FailedPeriods)},
		)
		if r.DegradationEvaluated {
			summary = append(summary,
				[]any{"Degraded Periods", r.DegradedPeriods},
				[]any{"Performance Degraded", r.PerformanceDegraded},
			)
		}
	}
	for i, kv := range summary {
		for col, v := range kv {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			fx.SetCellValue(stabilitySheet, cell, v)
			fx.SetCellStyle(stabilitySheet, cell, cell, styles.text)
		}
	}

	if err := fx.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func writeHeader(fx *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, style)
	}
}

func newExcelStyles(fx *excelize.File) (excelStyles, error) {
	var (
		s   excelStyles
		err error
	)
	border := []excelize.Border{
		{Type: "left", Color: "D9D9D9", Style: 1},
		{Type: "right", Color: "D9D9D9", Style: 1},
		{Type: "top", Color: "D9D9D9", Style: 1},
		{Type: "bottom", Color: "D9D9D9", Style: 1},
	}

	s.header, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"1F4E79"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	if err != nil {
		return s, fmt.Errorf("header style: %w", err)
	}

	s.text, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: 10, Family: "Calibri"},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
		Border:    border,
	})
	if err != nil {
		return s, fmt.Errorf("text style: %w", err)
	}

	decimals := "0.00"
	s.number, err = fx.NewStyle(&excelize.Style{
		Font:         &excelize.Font{Size: 10, Family: "Calibri"},
		Alignment:    &excelize.Alignment{Horizontal: "right", Vertical: "center"},
		Border:       border,
		CustomNumFmt: &decimals,
	})
	if err != nil {
		return s, fmt.Errorf("number style: %w", err)
	}

	s.percent, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: 10, Family: "Calibri"},
		Alignment: &excelize.Alignment{Horizontal: "right", Vertical: "center"},
		Border:    border,
		NumFmt:    10, // 0.00%
	})
	if err != nil {
		return s, fmt.Errorf("percent style: %w", err)
	}

	s.bad, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: 10, Color: "9C0006", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "center"},
		Border:    border,
	})
	if err != nil {
		return s, fmt.Errorf("failure style: %w", err)
	}
	return s, nil
}
