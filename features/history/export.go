package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"docproof/apps/backend/internal/completion"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

var exportHeaders = []string{"Error Type", "Page", "Location Context", "Original Text", "Suggestion"}

func exportRow(f completion.Finding) []string {
	return []string{f.ErrorType, strconv.Itoa(f.Page), f.LocationContext, f.OriginalText, f.Suggestion}
}

func WriteCSV(w io.Writer, findings []completion.Finding) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeaders); err != nil {
		return err
	}
	for _, f := range findings {
		if err := cw.Write(exportRow(f)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type Summary struct {
	ErrorTypes      map[string]int `json:"error_types"`
	PagesWithIssues []int          `json:"pages_with_issues"`
}

type Metadata struct {
	TotalIssues     int       `json:"total_issues"`
	ExportTimestamp time.Time `json:"export_timestamp"`
	Summary         Summary   `json:"summary"`
}

type Report struct {
	Metadata Metadata             `json:"metadata"`
	Issues   []completion.Finding `json:"issues"`
}

// NewReport summarizes findings by error type and by page.
func NewReport(findings []completion.Finding, now time.Time) Report {
	types := make(map[string]int)
	seen := make(map[int]bool)
	pages := []int{}
	for _, f := range findings {
		types[f.ErrorType]++
		if !seen[f.Page] {
			seen[f.Page] = true
			pages = append(pages, f.Page)
		}
	}
	sort.Ints(pages)

	if findings == nil {
		findings = []completion.Finding{}
	}
	return Report{
		Metadata: Metadata{
			TotalIssues:     len(findings),
			ExportTimestamp: now.UTC(),
			Summary:         Summary{ErrorTypes: types, PagesWithIssues: pages},
		},
		Issues: findings,
	}
}

const findingsSheet = "Findings"

func WriteXLSX(w io.Writer, findings []completion.Finding) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(findingsSheet); err != nil {
		return err
	}
	_ = f.DeleteSheet("Sheet1")
	index, err := f.GetSheetIndex(findingsSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(findingsSheet, cell, h)
	}

	for r, finding := range findings {
		row := r + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(findingsSheet, cell, v)
		}
		write(1, finding.ErrorType)
		write(2, finding.Page)
		write(3, finding.LocationContext)
		write(4, finding.OriginalText)
		write(5, finding.Suggestion)
	}

	_ = f.SetColWidth(findingsSheet, "A", "A", 18)
	_ = f.SetColWidth(findingsSheet, "B", "B", 8)
	_ = f.SetColWidth(findingsSheet, "C", "E", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}
