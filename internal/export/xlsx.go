package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"vigil/internal/history"
)

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (x *Exporter) renderXLSX(e *history.Entry) (*Artifact, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Summary"
	f.SetSheetName("Sheet1", sheet)
	writeKV(f, sheet, [][2]any{
		{"Job ID", e.JobID},
		{"Source", e.SourceName},
		{"Kind", e.SourceKind},
		{"Status", e.Status},
		{"Created", e.CreatedAt.Format(time.RFC3339)},
		{"Processing (ms)", e.ProcessingMs},
	})

	if e.Report != nil {
		row := 8
		f.SetCellValue(sheet, cell(1, row), "Label")
		f.SetCellValue(sheet, cell(2, row), "Count")
		f.SetCellValue(sheet, cell(3, row), "Max confidence")
		for _, label := range sortedLabels(e.Report.Summary) {
			row++
			sum := e.Report.Summary[label]
			f.SetCellValue(sheet, cell(1, row), label)
			f.SetCellValue(sheet, cell(2, row), sum.Count)
			f.SetCellValue(sheet, cell(3, row), sum.MaxConfidence)
		}

		if _, err := f.NewSheet("Detections"); err != nil {
			return nil, fmt.Errorf("xlsx: %w", err)
		}
		headers := []string{"Frame", "Time (s)", "Label", "Confidence", "X", "Y", "W", "H", "Model"}
		for i, h := range headers {
			f.SetCellValue("Detections", cell(i+1, 1), h)
		}
		for i, d := range e.Report.Detections {
			r := i + 2
			f.SetCellValue("Detections", cell(1, r), d.FrameIndex)
			f.SetCellValue("Detections", cell(2, r), d.TimeOffsetSec)
			f.SetCellValue("Detections", cell(3, r), d.Label)
			f.SetCellValue("Detections", cell(4, r), d.Confidence)
			f.SetCellValue("Detections", cell(5, r), d.Box.X)
			f.SetCellValue("Detections", cell(6, r), d.Box.Y)
			f.SetCellValue("Detections", cell(7, r), d.Box.W)
			f.SetCellValue("Detections", cell(8, r), d.Box.H)
			f.SetCellValue("Detections", cell(9, r), d.Model)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return &Artifact{
		Data:        buf.Bytes(),
		Filename:    "report_" + e.JobID + ".xlsx",
		ContentType: xlsxMime,
	}, nil
}

// RenderHistoryXLSX builds a workbook over the whole stored history: summary
// statistics, per-label totals and one row per job.
func (x *Exporter) RenderHistoryXLSX(entries []*history.Entry, stats *history.Stats) (*Artifact, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Summary"
	f.SetSheetName("Sheet1", sheet)
	writeKV(f, sheet, [][2]any{
		{"Weapon detection history", ""},
		{"Total jobs", stats.TotalJobs},
		{"Jobs with weapon", stats.JobsWithWeapon},
		{"Jobs without weapon", stats.TotalJobs - stats.JobsWithWeapon},
		{"Avg processing time (ms)", stats.AvgProcessingMs},
	})

	if _, err := f.NewSheet("Labels"); err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	f.SetCellValue("Labels", "A1", "Label")
	f.SetCellValue("Labels", "B1", "Detections")
	r := 2
	for _, label := range sortedKeys(stats.DetectionsPerLbl) {
		f.SetCellValue("Labels", cell(1, r), label)
		f.SetCellValue("Labels", cell(2, r), stats.DetectionsPerLbl[label])
		r++
	}

	if _, err := f.NewSheet("History"); err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	headers := []string{"Job ID", "Created", "Source", "Kind", "Status", "Detections", "Weapon", "Processing (ms)"}
	for i, h := range headers {
		f.SetCellValue("History", cell(i+1, 1), h)
	}
	for i, e := range entries {
		r := i + 2
		detCount := 0
		weapon := false
		if e.Report != nil {
			detCount = len(e.Report.Detections)
			weapon = e.Report.HasWeapon
		}
		f.SetCellValue("History", cell(1, r), e.JobID)
		f.SetCellValue("History", cell(2, r), e.CreatedAt.Format(time.RFC3339))
		f.SetCellValue("History", cell(3, r), e.SourceName)
		f.SetCellValue("History", cell(4, r), e.SourceKind)
		f.SetCellValue("History", cell(5, r), e.Status)
		f.SetCellValue("History", cell(6, r), detCount)
		f.SetCellValue("History", cell(7, r), weapon)
		f.SetCellValue("History", cell(8, r), e.ProcessingMs)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return &Artifact{
		Data:        buf.Bytes(),
		Filename:    "history_export.xlsx",
		ContentType: xlsxMime,
	}, nil
}

func writeKV(f *excelize.File, sheet string, rows [][2]any) {
	for i, kv := range rows {
		f.SetCellValue(sheet, cell(1, i+1), kv[0])
		if kv[1] != "" {
			f.SetCellValue(sheet, cell(2, i+1), kv[1])
		}
	}
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
