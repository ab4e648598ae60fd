package extract

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XlsxExtractor extracts spreadsheets: one synthetic page per worksheet,
// rows rendered as pipe-delimited cell values, blank rows skipped.
type XlsxExtractor struct{}

// Extract returns one page per non-empty worksheet.
func (e *XlsxExtractor) Extract(path string) ([]Page, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening workbook: %v", ErrUnreadable, err)
	}
	defer f.Close()

	var pages []Page
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			if line := joinRow(row); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		text := sheet + "\n" + strings.Join(lines, "\n")
		pages = append(pages, Page{Number: len(pages) + 1, Text: text})
	}
	return pages, nil
}

// PageCount returns the worksheet count.
func (e *XlsxExtractor) PageCount(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 1, fmt.Errorf("%w: opening workbook: %v", ErrUnreadable, err)
	}
	defer f.Close()
	return len(f.GetSheetList()), nil
}
