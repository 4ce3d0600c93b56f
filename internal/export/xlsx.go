// Package export renders a pipeline result as an XLSX workbook, the format
// analysts used to fill in by hand.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/esgflow/materiality/internal/pipeline"
)

var categoryNames = map[string]string{
	"E":       "Environmental",
	"S":       "Social",
	"G":       "Governance",
	"Unknown": "Unknown",
}

// IssuesXLSX returns a workbook with one row per ranked issue plus a
// summary block for the extraction metadata.
func IssuesXLSX(result *pipeline.Result) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Materiality Issues"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	headers := []string{"Rank", "Issue", "Category", "Confidence", "Priority", "Pages"}
	for i, h := range headers {
		write(i+1, 1, h)
	}

	row := 2
	for rank, issue := range result.MaterialityIssues {
		write(1, row, rank+1)
		write(2, row, issue.Name)
		write(3, row, categoryNames[string(issue.Category)])
		write(4, row, fmt.Sprintf("%.2f", issue.Confidence))
		write(5, row, issue.PriorityTier)
		write(6, row, pageList(issue.SupportingPages))
		row++
	}

	row++
	write(1, row, "File")
	write(2, row, result.File.Filename)
	row++
	write(1, row, "Extraction method")
	write(2, row, result.ExtractionMethod)
	row++
	write(1, row, "Industry")
	write(2, row, result.IndustryDetected.Label)
	row++
	write(1, row, "Overall confidence")
	write(2, row, fmt.Sprintf("%.2f (%s)", result.ConfidenceSummary.Score, result.ConfidenceSummary.Tier))

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func pageList(pages []int) string {
	s := ""
	for i, p := range pages {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d", p)
	}
	return s
}
