package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
)

// DocxExtractor extracts Word documents, walking paragraphs and tables in
// their original body order and grouping them into synthetic pages.
type DocxExtractor struct {
	PageCharThreshold int
}

// Extract returns synthetic pages built from the document body.
func (e *DocxExtractor) Extract(path string) ([]Page, error) {
	doc, err := e.parse(path)
	if err != nil {
		return nil, err
	}

	builder := newPageBuilder(e.PageCharThreshold)
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			builder.add(it.String())
		case *docx.Table:
			builder.add(tableText(it))
		}
	}
	return builder.result(), nil
}

// PageCount estimates pages from total text volume.
func (e *DocxExtractor) PageCount(path string) (int, error) {
	pages, err := e.Extract(path)
	if err != nil {
		return 1, err
	}
	if len(pages) == 0 {
		return 1, nil
	}
	return len(pages), nil
}

func (e *DocxExtractor) parse(path string) (*docx.Docx, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening docx: %v", ErrUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat docx: %v", ErrUnreadable, err)
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: parsing docx: %v", ErrUnreadable, err)
	}
	return doc, nil
}

// tableText renders a table as pipe-delimited rows, one row per line.
func tableText(t *docx.Table) string {
	var rows []string
	for _, row := range t.TableRows {
		var cells []string
		for _, cell := range row.TableCells {
			var parts []string
			for _, p := range cell.Paragraphs {
				if s := strings.TrimSpace(p.String()); s != "" {
					parts = append(parts, s)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		if line := joinRow(cells); line != "" {
			rows = append(rows, line)
		}
	}
	return strings.Join(rows, "\n")
}
